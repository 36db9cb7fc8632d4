package main

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/fleetops/control_plane/trust"
)

type evaluateRequest struct {
	SourceSystem string                 `json:"sourceSystem"`
	Protocol     string                 `json:"protocol"`
	Payload      map[string]interface{} `json:"payload"`
	SourceIP     string                 `json:"sourceIp,omitempty"`
}

// handleEvaluate scores one inbound message. When sourceIp is omitted and
// useRemoteIP=true is set, the caller's address is used instead.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !a.evaluateLimiter.Allow() {
		writeRateLimitError(w, "evaluate")
		return
	}

	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SourceSystem == "" || req.Protocol == "" {
		http.Error(w, "sourceSystem and protocol are required", http.StatusBadRequest)
		return
	}
	if req.SourceIP == "" && r.URL.Query().Get("useRemoteIP") == "true" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.SourceIP = host
		}
	}

	eval := a.evaluator.Evaluate(r.Context(), req.SourceSystem, req.Protocol, req.Payload, req.SourceIP)
	if eval.Audit.Err != nil {
		w.Header().Set("X-Audit-Status", "failed")
	}
	writeJSON(w, http.StatusOK, eval)
}

func (a *API) handleGetLists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.evaluator.Registry().Lists(r.Context())
	if err != nil {
		log.Printf("[TRUST] Failed to read trust lists: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

// handleGetSource returns the stored profile of a source with its current
// list membership.
func (a *API) handleGetSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	reg := a.evaluator.Registry()

	profile, err := reg.Profile(r.Context(), source)
	if err != nil {
		log.Printf("[TRUST] Failed to read profile for %s: %v", source, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	white, err := reg.IsWhitelisted(r.Context(), source)
	if err != nil {
		log.Printf("[TRUST] Failed to read whitelist for %s: %v", source, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	black, err := reg.IsBlacklisted(r.Context(), source)
	if err != nil {
		log.Printf("[TRUST] Failed to read blacklist for %s: %v", source, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if profile == nil {
		if !white && !black {
			http.Error(w, "Source not found", http.StatusNotFound)
			return
		}
		profile = &trust.SourceConfig{SourceSystem: source}
	}
	profile.Whitelisted, profile.Blacklisted = white, black
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleAddToList(w http.ResponseWriter, r *http.Request) {
	a.changeList(w, r, true)
}

func (a *API) handleRemoveFromList(w http.ResponseWriter, r *http.Request) {
	a.changeList(w, r, false)
}

func (a *API) changeList(w http.ResponseWriter, r *http.Request, add bool) {
	list := chi.URLParam(r, "list")
	source := strings.TrimSpace(chi.URLParam(r, "source"))
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}

	reg := a.evaluator.Registry()
	var err error
	switch {
	case list == "whitelist" && add:
		err = reg.AddToWhitelist(r.Context(), source)
	case list == "whitelist":
		err = reg.RemoveFromWhitelist(r.Context(), source)
	case list == "blacklist" && add:
		err = reg.AddToBlacklist(r.Context(), source)
	case list == "blacklist":
		err = reg.RemoveFromBlacklist(r.Context(), source)
	default:
		http.Error(w, "Unknown list "+list, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[TRUST] Failed to update %s for %s: %v", list, source, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	action := "removed"
	if add {
		action = "added"
	}
	log.Printf("[TRUST] %s %s %s", source, action, list)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := a.store.ListAuditEvents(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		log.Printf("[STORE] Failed to list audit events: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, events)
}
