package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/itskum47/fleetops/control_plane/idempotency"
	"github.com/itskum47/fleetops/control_plane/middleware"
	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/tasking"
	"github.com/itskum47/fleetops/control_plane/trust"
)

const idempotencyHeader = "X-Idempotency-Key"

type API struct {
	store       store.Store
	evaluator   *trust.Evaluator
	coordinator *tasking.Coordinator
	hub         *EventHub
	auth        *middleware.Authenticator // nil disables auth

	idempotency *idempotency.Store

	// Storm Protection
	evaluateLimiter *rate.Limiter
}

func NewAPI(s store.Store, evaluator *trust.Evaluator, coordinator *tasking.Coordinator, hub *EventHub, auth *middleware.Authenticator, idem *idempotency.Store) *API {
	if idem == nil {
		idem = idempotency.NewStore(nil)
	}
	return &API{
		store:       s,
		evaluator:   evaluator,
		coordinator: coordinator,
		hub:         hub,
		auth:        auth,
		idempotency: idem,
		// Allow 200 evaluations/sec, burst 400
		evaluateLimiter: rate.NewLimiter(rate.Limit(200), 400),
	}
}

// Routes builds the HTTP handler.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth.Middleware)
		}
		writer := middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin)
		admin := middleware.RequireRole(middleware.RoleAdmin)

		r.Route("/trust", func(r chi.Router) {
			r.Post("/evaluate", a.handleEvaluate)
			r.Get("/lists", a.handleGetLists)
			r.Get("/sources/{source}", a.handleGetSource)
			r.Get("/audit", a.handleListAudit)
			r.With(admin).Put("/{list}/{source}", a.handleAddToList)
			r.With(admin).Delete("/{list}/{source}", a.handleRemoveFromList)
		})

		r.Route("/missions", func(r chi.Router) {
			r.Get("/", a.handleListMissions)
			r.With(writer).Post("/", a.withIdempotency(a.handleCreateMission))
			r.Route("/{missionID}", func(r chi.Router) {
				r.Get("/", a.handleGetMission)
				r.Get("/timeline", a.handleMissionTimeline)
				r.With(writer).Post("/plan", a.withIdempotency(a.handlePlanMission))
				r.With(writer).Post("/sync", a.handleSyncMission)
				r.With(writer).Put("/status", a.handleSetMissionStatus)
				r.With(writer).Patch("/tasks/{taskID}", a.handleUpdateTask)
			})
		})

		r.Get("/timeline", a.handleTimeline)
		r.Get("/stream", a.handleStream)
	})
	return r
}

// Wrapper for capturing response
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays the first successful response for a repeated key.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next(w, r)
			return
		}
		key = r.URL.Path + ":" + key

		if resp, found := a.idempotency.Get(r.Context(), key); found {
			observability.IdempotentReplays.Inc()
			for k, v := range resp.Headers {
				for _, val := range v {
					w.Header().Add(k, val)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		if rec.statusCode < 300 {
			a.idempotency.Set(r.Context(), key, idempotency.Response{
				StatusCode: rec.statusCode,
				Body:       rec.body,
				Headers:    rec.Header(),
			})
		}
	}
}

// writeRateLimitError writes a 429 response with a jittered Retry-After.
func writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Whole seconds, jittered over 1-2s.
	retryAfter := 1 + rand.Intn(2)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
