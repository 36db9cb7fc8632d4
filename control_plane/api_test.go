package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/itskum47/fleetops/control_plane/idempotency"
	"github.com/itskum47/fleetops/control_plane/middleware"
	"github.com/itskum47/fleetops/control_plane/protocol"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/streaming"
	"github.com/itskum47/fleetops/control_plane/tasking"
	"github.com/itskum47/fleetops/control_plane/timeline"
	"github.com/itskum47/fleetops/control_plane/trust"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	api     *API
	handler http.Handler
	store   *store.MemoryStore
	broker  *streaming.Broker
}

func newTestEnv(t *testing.T, auth *middleware.Authenticator) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	broker := streaming.NewBroker()
	registry := trust.NewMemoryRegistry([]string{"coastguard-hq"}, []string{"banned-system"})

	accept := protocol.AdapterFunc(func(ctx context.Context, msg protocol.Message) (protocol.Result, error) {
		return protocol.Result{Success: true}, nil
	})
	evaluator := trust.NewEvaluator(registry, s, trust.WithPublisher(broker))
	coordinator := tasking.NewCoordinator(s, accept, tasking.WithPublisher(broker))

	api := NewAPI(s, evaluator, coordinator, nil, auth, idempotency.NewStore(nil))
	return &testEnv{api: api, handler: api.Routes(), store: s, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestEvaluateBannedSystem(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/trust/evaluate", evaluateRequest{
		SourceSystem: "banned-system",
		Protocol:     "json-rpc",
		Payload:      map[string]interface{}{"jsonrpc": "2.0", "method": "status"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var eval trust.TrustEvaluation
	decode(t, w, &eval)
	assert.Equal(t, 0, eval.TrustScore)
	assert.Equal(t, trust.StatusBlocked, eval.ComplianceStatus)
	require.NotEmpty(t, eval.Alerts)
	assert.Equal(t, trust.AlertCritical, eval.Alerts[0].Level)
	assert.Empty(t, w.Header().Get("X-Audit-Status"))

	events, err := env.store.ListAuditEvents(context.Background(), "banned-system", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	w = env.do(t, http.MethodGet, "/api/trust/audit?source=banned-system", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []store.AuditEvent
	decode(t, w, &listed)
	assert.Len(t, listed, 1)
}

func TestEvaluateValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/trust/evaluate", evaluateRequest{Protocol: "ais"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/trust/evaluate", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = env.do(t, http.MethodGet, "/api/trust/audit?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrustListManagement(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/trust/whitelist/ais-gw", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/api/trust/blacklist/banned-system", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPut, "/api/trust/greylist/x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/trust/lists", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lists trust.Lists
	decode(t, w, &lists)
	assert.ElementsMatch(t, []string{"ais-gw", "coastguard-hq"}, lists.Whitelist)
	assert.Empty(t, lists.Blacklist)
}

func TestGetSourceProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	seed, err := trust.ParseSeed([]byte("sources:\n  - source_system: ais-gw\n    whitelisted: true\n    trust_level: medium\n    allowed_protocols: [ais]\n    metadata:\n      region: south\n"))
	require.NoError(t, err)
	require.NoError(t, seed.Apply(context.Background(), env.api.evaluator.Registry()))

	w := env.do(t, http.MethodGet, "/api/trust/sources/ais-gw", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got trust.SourceConfig
	decode(t, w, &got)
	assert.Equal(t, "ais-gw", got.SourceSystem)
	assert.True(t, got.Whitelisted)
	assert.Equal(t, "medium", got.TrustLevel)
	assert.Equal(t, []string{"ais"}, got.AllowedProtocols)
	assert.Equal(t, "south", got.Metadata["region"])

	// Membership follows later list edits.
	w = env.do(t, http.MethodDelete, "/api/trust/whitelist/ais-gw", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/trust/sources/ais-gw", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got = trust.SourceConfig{}
	decode(t, w, &got)
	assert.False(t, got.Whitelisted)
	assert.Equal(t, "medium", got.TrustLevel)

	// Listed without a profile.
	w = env.do(t, http.MethodGet, "/api/trust/sources/banned-system", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got = trust.SourceConfig{}
	decode(t, w, &got)
	assert.True(t, got.Blacklisted)
	assert.Empty(t, got.TrustLevel)

	w = env.do(t, http.MethodGet, "/api/trust/sources/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	mission := tasking.JointMission{
		Name:     "Harbour patrol",
		Type:     tasking.MissionPatrol,
		Priority: tasking.PriorityHigh,
		Entities: []tasking.ExternalEntity{
			{ID: "vessel-1", Name: "Cutter", Protocol: "stanag", Capabilities: []string{"patrol"}, Status: tasking.EntityAvailable},
			{ID: "heli-1", Name: "Helo", Protocol: "mqtt", Capabilities: []string{"surveillance"}, Status: tasking.EntityAvailable},
		},
	}
	w := env.do(t, http.MethodPost, "/api/missions", mission)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Success   bool   `json:"success"`
		MissionID string `json:"missionId"`
	}
	decode(t, w, &created)
	require.True(t, created.Success)
	require.NotEmpty(t, created.MissionID)
	base := "/api/missions/" + created.MissionID

	w = env.do(t, http.MethodPost, base+"/plan", planRequest{Strategy: tasking.StrategyCapability})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var planned struct {
		Mission    tasking.JointMission  `json:"mission"`
		Unassigned []tasking.MissionTask `json:"unassigned"`
	}
	decode(t, w, &planned)
	require.Len(t, planned.Mission.Tasks, 2)
	assert.Empty(t, planned.Unassigned)
	assert.Equal(t, tasking.MissionAssigned, planned.Mission.Status)

	w = env.do(t, http.MethodPost, base+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result tasking.SyncResult
	decode(t, w, &result)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.SyncedTasks)

	for _, task := range planned.Mission.Tasks {
		w = env.do(t, http.MethodPatch, base+"/tasks/"+task.ID, taskUpdateRequest{Status: tasking.TaskCompleted})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got tasking.JointMission
	decode(t, w, &got)
	assert.Equal(t, 100, got.CompletionPercentage)
	assert.Equal(t, tasking.MissionCompleted, got.Status)
	assert.Equal(t, tasking.SyncSynced, got.SyncStatus)

	w = env.do(t, http.MethodGet, base+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []map[string]interface{}
	decode(t, w, &events)
	assert.GreaterOrEqual(t, len(events), 5)

	w = env.do(t, http.MethodGet, "/api/missions?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var missions []tasking.JointMission
	decode(t, w, &missions)
	assert.Len(t, missions, 1)
}

func TestMissionErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/missions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/missions/missing/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/missions/missing/plan", planRequest{Strategy: tasking.StrategySequential})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, "/api/missions/missing/status", statusRequest{Status: tasking.MissionPaused})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPatch, "/api/missions/missing/tasks/t1", taskUpdateRequest{Status: tasking.TaskCompleted})
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, tasking.ErrMissionNotFound.Error(), body["error"])

	w = env.do(t, http.MethodPost, "/api/missions", tasking.JointMission{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/missions", tasking.JointMission{Name: "m"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		MissionID string `json:"missionId"`
	}
	decode(t, w, &created)

	w = env.do(t, http.MethodPost, "/api/missions/"+created.MissionID+"/plan", planRequest{Strategy: "random"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/missions/"+created.MissionID+"/status", statusRequest{Status: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/missions/"+created.MissionID+"/status", statusRequest{Status: tasking.MissionPaused})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPatch, "/api/missions/"+created.MissionID+"/tasks/nope", taskUpdateRequest{Status: tasking.TaskCompleted})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateMissionIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	m := tasking.JointMission{Name: "Exercise", Type: tasking.MissionExercise}

	first := env.do(t, http.MethodPost, "/api/missions", m, idempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.do(t, http.MethodPost, "/api/missions", m, idempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	missions, err := env.store.ListMissions(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Len(t, missions, 1)

	third := env.do(t, http.MethodPost, "/api/missions", m, idempotencyHeader, "req-2")
	require.Equal(t, http.StatusCreated, third.Code)
	assert.NotEqual(t, first.Body.String(), third.Body.String())
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	auth, err := middleware.NewAuthenticator(testSecret)
	require.NoError(t, err)
	env := newTestEnv(t, auth)

	viewer, err := auth.GenerateToken("watch-officer", middleware.RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := auth.GenerateToken("ops", middleware.RoleOperator, time.Hour)
	require.NoError(t, err)
	admin, err := auth.GenerateToken("root", middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)

	w := env.do(t, http.MethodGet, "/api/missions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/missions", nil, "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusOK, w.Code)

	m := tasking.JointMission{Name: "Interdiction"}
	w = env.do(t, http.MethodPost, "/api/missions", m, "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/missions", m, "Authorization", "Bearer "+operator)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPut, "/api/trust/whitelist/new-src", nil, "Authorization", "Bearer "+operator)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, "/api/trust/whitelist/new-src", nil, "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStreamDisabledWithoutHub(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimitRetryAfterIsJittered(t *testing.T) {
	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		w := httptest.NewRecorder()
		writeRateLimitError(w, "evaluate")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		seen[w.Header().Get("Retry-After")]++
	}
	assert.Greater(t, len(seen), 1, "Retry-After never varied: %v", seen)
	for v := range seen {
		assert.Contains(t, []string{"1", "2"}, v)
	}
}

func TestEvaluateRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.api.evaluateLimiter = rate.NewLimiter(0, 0)

	w := env.do(t, http.MethodPost, "/api/trust/evaluate", evaluateRequest{SourceSystem: "a", Protocol: "ais"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCreateMissionValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	dup := tasking.JointMission{
		Name: "Convoy",
		Entities: []tasking.ExternalEntity{
			{ID: "v1", Capabilities: []string{"nav"}, Status: tasking.EntityAvailable},
			{ID: "v1", Capabilities: []string{"nav"}, Status: tasking.EntityAvailable},
		},
	}
	w := env.do(t, http.MethodPost, "/api/missions", dup)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "duplicate entity id")

	w = env.do(t, http.MethodPost, "/api/missions", tasking.JointMission{Name: "Convoy", Priority: "urgent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/missions", tasking.JointMission{Name: "Convoy", Status: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missions, err := env.store.ListMissions(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, missions)
}

func TestTimelineFilters(t *testing.T) {
	env := newTestEnv(t, nil)

	mission := tasking.JointMission{
		Name:  "Survey",
		Tasks: []tasking.MissionTask{{ID: "t1", Name: "Sweep"}, {ID: "t2", Name: "Report"}},
	}
	w := env.do(t, http.MethodPost, "/api/missions", mission)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		MissionID string `json:"missionId"`
	}
	decode(t, w, &created)
	base := "/api/missions/" + created.MissionID

	w = env.do(t, http.MethodPatch, base+"/tasks/t1", taskUpdateRequest{Status: tasking.TaskInProgress})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPatch, base+"/tasks/t2", taskUpdateRequest{Status: tasking.TaskCompleted})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, base+"/timeline?task=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var taskEvents []timeline.MissionEvent
	decode(t, w, &taskEvents)
	require.Len(t, taskEvents, 1)
	assert.Equal(t, "t1", taskEvents[0].TaskID)

	w = env.do(t, http.MethodGet, base+"/timeline?task=none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	_, err := env.api.coordinator.CreateMission(context.Background(), tasking.JointMission{Name: "Other"})
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/api/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []timeline.MissionEvent
	decode(t, w, &all)
	missionIDs := map[string]bool{}
	for _, e := range all {
		missionIDs[e.MissionID] = true
	}
	assert.Len(t, missionIDs, 2)
	assert.GreaterOrEqual(t, len(all), 4)
}
