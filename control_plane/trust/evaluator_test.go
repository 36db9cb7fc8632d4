package trust

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/fleetops/control_plane/protocol"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/streaming"
)

type failingAudit struct {
	calls int
}

func (f *failingAudit) InsertAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	f.calls++
	return errors.New("datastore unavailable")
}

type brokenRegistry struct {
	*MemoryRegistry
}

func (brokenRegistry) IsBlacklisted(ctx context.Context, s string) (bool, error) {
	return false, errors.New("redis down")
}

func validJSONRPC() map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "method": "x"}
}

func newTestEvaluator(white, black []string) (*Evaluator, *store.MemoryStore) {
	s := store.NewMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewEvaluator(NewMemoryRegistry(white, black), s, WithClock(func() time.Time { return fixed })), s
}

func findCheck(t *testing.T, eval *TrustEvaluation, name CheckName) CheckResult {
	t.Helper()
	for _, c := range eval.Checks {
		if c.CheckName == name {
			return c
		}
	}
	t.Fatalf("check %s not present", name)
	return CheckResult{}
}

func TestBannedSystemIsBlocked(t *testing.T) {
	e, s := newTestEvaluator(nil, []string{"banned-system"})

	eval := e.Evaluate(context.Background(), "banned-system", protocol.JSONRPC, validJSONRPC(), "")

	assert.Equal(t, 0, eval.TrustScore)
	assert.Equal(t, StatusBlocked, eval.ComplianceStatus)
	assert.Contains(t, eval.FailedChecks, CheckBlacklist)

	top, ok := eval.HighestAlert()
	require.True(t, ok)
	assert.Equal(t, AlertCritical, top.Level)
	assert.Equal(t, ActionRejectInput, top.Action)

	events, err := s.ListAuditEvents(context.Background(), "banned-system", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "blocked", events[0].ComplianceStatus)
	assert.Equal(t, eval.Audit.EventID, events[0].EventID)
}

func TestBlacklistOverridesEverything(t *testing.T) {
	// Whitelisted, trusted protocol, perfect payload and clean IP: still 0.
	e, _ := newTestEvaluator([]string{"dual"}, []string{"dual"})

	eval := e.Evaluate(context.Background(), "dual", protocol.STANAG, map[string]interface{}{
		"messageId": "M1", "classification": "SECRET", "priority": "FLASH",
	}, "8.8.8.8")

	assert.Equal(t, 0, eval.TrustScore)
	assert.Equal(t, StatusBlocked, eval.ComplianceStatus)
}

func TestWhitelistBonusIsCapped(t *testing.T) {
	e, _ := newTestEvaluator([]string{"coastguard-hq"}, nil)

	eval := e.Evaluate(context.Background(), "coastguard-hq", protocol.JSONRPC, validJSONRPC(), "")

	assert.True(t, findCheck(t, eval, CheckWhitelist).Passed)
	assert.Equal(t, 100, eval.TrustScore)
	assert.Equal(t, StatusCompliant, eval.ComplianceStatus)
	assert.Empty(t, eval.Alerts)
	assert.Empty(t, eval.FailedChecks)
}

func TestWhitelistBonusApplied(t *testing.T) {
	e, _ := newTestEvaluator([]string{"ais-gw"}, nil)
	plain, _ := newTestEvaluator(nil, nil)
	payload := map[string]interface{}{"mmsi": 366999000, "lat": 47.6, "lon": -122.3}

	listed := e.Evaluate(context.Background(), "ais-gw", protocol.AIS, payload, "")
	unlisted := plain.Evaluate(context.Background(), "ais-gw", protocol.AIS, payload, "")

	// unlisted: (50*2 + 100*3 + 60*2 + 100*1.5) / 8.5 = 78.8 -> 79
	assert.Equal(t, 79, unlisted.TrustScore)
	assert.Equal(t, StatusNonCompliant, unlisted.ComplianceStatus)
	// listed: (100*2 + 100*3 + 60*2 + 100*1.5) / 8.5 = 90.6 -> 91 + 10 = 100 (capped)
	assert.Equal(t, 100, listed.TrustScore)
}

func TestUnlistedSourceScore(t *testing.T) {
	e, _ := newTestEvaluator(nil, nil)

	eval := e.Evaluate(context.Background(), "new-vessel", protocol.JSONRPC, validJSONRPC(), "")

	// (50*2 + 100*3 + 100*2 + 100*1.5) / 8.5 = 88.2
	assert.Equal(t, 88, eval.TrustScore)
	assert.Equal(t, StatusCompliant, eval.ComplianceStatus)
	assert.Equal(t, []CheckName{CheckWhitelist}, eval.FailedChecks)
	assert.Len(t, eval.Checks, 4, "IP check only runs when an IP is given")
}

func TestSchemaPenaltyPerMissingField(t *testing.T) {
	cases := []struct {
		name    string
		proto   string
		payload map[string]interface{}
		missing int
	}{
		{"json-rpc complete", protocol.JSONRPC, validJSONRPC(), 0},
		{"json-rpc wrong version", protocol.JSONRPC, map[string]interface{}{"jsonrpc": "1.0", "method": "x"}, 1},
		{"json-rpc empty", protocol.JSONRPC, map[string]interface{}{}, 2},
		{"ais missing coordinates", protocol.AIS, map[string]interface{}{"mmsi": 1}, 2},
		{"ais nil payload", protocol.AIS, nil, 3},
		{"stanag empty strings", protocol.STANAG, map[string]interface{}{"messageId": "", "classification": "", "priority": ""}, 3},
		{"unknown protocol always passes", "carrier-pigeon", nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := checkSchema(tc.proto, tc.payload)
			want := 100 - missingFieldPenalty*tc.missing
			if want < 0 {
				want = 0
			}
			assert.Equal(t, want, c.Score)
			assert.Equal(t, tc.missing == 0, c.Passed)
			if tc.missing > 0 {
				assert.Len(t, c.Details["missingFields"], tc.missing)
			}
		})
	}
}

func TestSchemaScoreFlooredAtZero(t *testing.T) {
	v := requiredFields{{"a"}, {"b"}, {"c"}, {"d"}}
	schemaValidators["test-four"] = v
	defer delete(schemaValidators, "test-four")

	c := checkSchema("test-four", nil)
	assert.Equal(t, 0, c.Score)
	assert.False(t, c.Passed)
}

func TestProtocolSecurityTiers(t *testing.T) {
	assert.Equal(t, 100, checkProtocolSecurity(protocol.STANAG).Score)
	assert.Equal(t, 100, checkProtocolSecurity(protocol.JSONRPC).Score)
	assert.Equal(t, 60, checkProtocolSecurity(protocol.AIS).Score)
	assert.Less(t, checkProtocolSecurity(protocol.AIS).Score, checkProtocolSecurity(protocol.GMDSS).Score)

	untrusted := checkProtocolSecurity("telnet")
	assert.False(t, untrusted.Passed)
	assert.Equal(t, 0, untrusted.Score)
}

func TestIPReputation(t *testing.T) {
	assert.True(t, checkIPReputation("8.8.8.8").Passed)
	assert.True(t, checkIPReputation("2a00:1450::1").Passed)

	for _, ip := range []string{"192.0.2.10", "198.51.100.1", "203.0.113.99", "2001:db8::1", "::ffff:192.0.2.1"} {
		c := checkIPReputation(ip)
		assert.False(t, c.Passed, ip)
		assert.Equal(t, 20, c.Score, ip)
	}

	bad := checkIPReputation("not-an-ip")
	assert.False(t, bad.Passed)
	assert.Equal(t, 0, bad.Score)
}

func TestIPCheckAffectsScore(t *testing.T) {
	e, _ := newTestEvaluator(nil, nil)

	eval := e.Evaluate(context.Background(), "v", protocol.JSONRPC, validJSONRPC(), "192.0.2.1")

	require.Len(t, eval.Checks, 5)
	// (50*2 + 100*3 + 100*2 + 100*1.5 + 20*1) / 9.5 = 81.05
	assert.Equal(t, 81, eval.TrustScore)
	assert.Contains(t, eval.FailedChecks, CheckIPReputation)
}

func TestComplianceStatusThresholds(t *testing.T) {
	cases := map[int]ComplianceStatus{
		100: StatusCompliant,
		80:  StatusCompliant,
		79:  StatusNonCompliant,
		50:  StatusNonCompliant,
		49:  StatusSuspicious,
		30:  StatusSuspicious,
		29:  StatusBlocked,
		0:   StatusBlocked,
	}
	for score, want := range cases {
		assert.Equal(t, want, determineComplianceStatus(score, false), "score %d", score)
	}
	assert.Equal(t, StatusBlocked, determineComplianceStatus(100, true))
}

func TestComplianceStatusMonotonic(t *testing.T) {
	severity := map[ComplianceStatus]int{
		StatusCompliant:    0,
		StatusNonCompliant: 1,
		StatusSuspicious:   2,
		StatusBlocked:      3,
	}
	prev := severity[determineComplianceStatus(0, false)]
	for score := 1; score <= 100; score++ {
		cur := severity[determineComplianceStatus(score, false)]
		assert.LessOrEqual(t, cur, prev, "score %d became stricter", score)
		prev = cur
	}
}

func TestAlertTiers(t *testing.T) {
	now := time.Now()

	crit := alertsForScore(10, "s", now)
	require.Len(t, crit, 1)
	assert.Equal(t, AlertCritical, crit[0].Level)
	assert.Equal(t, ActionRejectInput, crit[0].Action)

	high := alertsForScore(45, "s", now)
	require.Len(t, high, 1)
	assert.Equal(t, AlertHigh, high[0].Level)

	warn := alertsForScore(69, "s", now)
	require.Len(t, warn, 1)
	assert.Equal(t, AlertWarning, warn[0].Level)

	assert.Empty(t, alertsForScore(70, "s", now))
}

func TestAlertLevelOrderingAndJSON(t *testing.T) {
	assert.True(t, AlertInfo < AlertWarning)
	assert.True(t, AlertWarning < AlertHigh)
	assert.True(t, AlertHigh < AlertCritical)
	assert.True(t, AlertCritical < AlertEmergency)

	data, err := json.Marshal(Alert{Level: AlertCritical, Action: ActionRejectInput})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"critical"`)

	var back Alert
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, AlertCritical, back.Level)

	var bad AlertLevel
	assert.Error(t, bad.UnmarshalText([]byte("apocalyptic")))
}

func TestAuditFailureIsSwallowed(t *testing.T) {
	audit := &failingAudit{}
	e := NewEvaluator(NewMemoryRegistry(nil, nil), audit)

	eval := e.Evaluate(context.Background(), "v", protocol.JSONRPC, validJSONRPC(), "")

	require.NotNil(t, eval)
	assert.Equal(t, 1, audit.calls)
	assert.True(t, eval.Audit.Attempted)
	assert.Error(t, eval.Audit.Err)
	assert.Equal(t, 88, eval.TrustScore)
}

func TestNoAuditWriter(t *testing.T) {
	e := NewEvaluator(NewMemoryRegistry(nil, nil), nil)
	eval := e.Evaluate(context.Background(), "v", protocol.JSONRPC, validJSONRPC(), "")
	assert.False(t, eval.Audit.Attempted)
}

func TestBlacklistLookupErrorDoesNotShortCircuit(t *testing.T) {
	e := NewEvaluator(brokenRegistry{NewMemoryRegistry(nil, nil)}, nil)

	eval := e.Evaluate(context.Background(), "v", protocol.JSONRPC, validJSONRPC(), "")

	bl := findCheck(t, eval, CheckBlacklist)
	assert.False(t, bl.Passed)
	assert.Equal(t, 50, bl.Score)
	assert.NotZero(t, eval.TrustScore)
	// (50*2 + 50*3 + 100*2 + 100*1.5) / 8.5 = 70.6
	assert.Equal(t, 71, eval.TrustScore)
}

func TestRecommendations(t *testing.T) {
	e, _ := newTestEvaluator(nil, []string{"bad"})

	eval := e.Evaluate(context.Background(), "bad", "telnet", nil, "192.0.2.1")

	assert.Contains(t, eval.Recommendations, "Reject all traffic from this source")
	assert.Contains(t, eval.Recommendations, "Switch to a trusted protocol")
	assert.Contains(t, eval.Recommendations, "Investigate source IP reputation")
	assert.Contains(t, eval.Recommendations, "Escalate to the security officer on watch")
}

func TestEvaluationPublished(t *testing.T) {
	b := streaming.NewBroker()
	var got []streaming.Event
	_, err := b.Subscribe(streaming.TopicTrustEvaluated, func(ev streaming.Event) { got = append(got, ev) })
	require.NoError(t, err)

	e := NewEvaluator(NewMemoryRegistry(nil, nil), nil, WithPublisher(b))
	e.Evaluate(context.Background(), "v", protocol.GRPC, nil, "")

	require.Len(t, got, 1)
	var payload TrustEvaluation
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "v", payload.SourceSystem)
}
