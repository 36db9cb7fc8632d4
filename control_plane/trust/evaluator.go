package trust

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/streaming"
)

// AuditWriter is the slice of the datastore the evaluator needs.
type AuditWriter interface {
	InsertAuditEvent(ctx context.Context, event *store.AuditEvent) error
}

// Evaluator runs the trust and compliance check battery.
type Evaluator struct {
	registry  Registry
	audit     AuditWriter
	publisher streaming.Publisher
	now       func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPublisher publishes every evaluation on TopicTrustEvaluated.
func WithPublisher(p streaming.Publisher) Option {
	return func(e *Evaluator) { e.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator. audit may be nil, in which case no audit
// write is attempted.
func NewEvaluator(registry Registry, audit AuditWriter, opts ...Option) *Evaluator {
	e := &Evaluator{
		registry: registry,
		audit:    audit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the trust lists the evaluator consults.
func (e *Evaluator) Registry() Registry {
	return e.registry
}

// Evaluate scores input from sourceSystem. sourceIP is optional; the IP
// reputation check only runs when it is non-empty. Evaluate never fails:
// registry and audit errors are folded into the result.
func (e *Evaluator) Evaluate(ctx context.Context, sourceSystem, protocolTag string, payload map[string]interface{}, sourceIP string) *TrustEvaluation {
	now := e.now()

	whitelisted, wErr := e.registry.IsWhitelisted(ctx, sourceSystem)
	if wErr != nil {
		log.Printf("[TRUST] whitelist lookup for %s failed: %v", sourceSystem, wErr)
	}
	blacklisted, bErr := e.registry.IsBlacklisted(ctx, sourceSystem)
	if bErr != nil {
		log.Printf("[TRUST] blacklist lookup for %s failed: %v", sourceSystem, bErr)
	}

	checks := []CheckResult{
		checkWhitelist(whitelisted, wErr),
		checkBlacklist(blacklisted, bErr),
		checkProtocolSecurity(protocolTag),
		checkSchema(protocolTag, payload),
	}
	if sourceIP != "" {
		checks = append(checks, checkIPReputation(sourceIP))
	}

	listedWhite := whitelisted && wErr == nil
	listedBlack := blacklisted && bErr == nil

	score := calculateTrustScore(checks, listedWhite, listedBlack)
	status := determineComplianceStatus(score, listedBlack)

	failed := make([]CheckName, 0)
	for _, c := range checks {
		if !c.Passed {
			failed = append(failed, c.CheckName)
			observability.TrustChecksFailed.WithLabelValues(string(c.CheckName)).Inc()
		}
	}

	eval := &TrustEvaluation{
		SourceSystem:     sourceSystem,
		Protocol:         protocolTag,
		TrustScore:       score,
		ComplianceStatus: status,
		Checks:           checks,
		FailedChecks:     failed,
		Alerts:           alertsForScore(score, sourceSystem, now),
		Recommendations:  recommendationsFor(checks, status),
		EvaluatedAt:      now,
	}
	if eval.Alerts == nil {
		eval.Alerts = []Alert{}
	}

	observability.TrustEvaluations.WithLabelValues(string(status)).Inc()
	observability.TrustScore.Observe(float64(score))

	eval.Audit = e.writeAudit(ctx, eval, sourceIP)

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, streaming.TopicTrustEvaluated, eval); err != nil {
			observability.EventPublishFailures.WithLabelValues(streaming.TopicTrustEvaluated).Inc()
		}
	}
	return eval
}

// writeAudit persists one audit event. Failures are logged and reported in
// the outcome only.
func (e *Evaluator) writeAudit(ctx context.Context, eval *TrustEvaluation, sourceIP string) AuditOutcome {
	if e.audit == nil {
		return AuditOutcome{}
	}

	details, err := json.Marshal(map[string]interface{}{
		"checks":   eval.Checks,
		"alerts":   eval.Alerts,
		"sourceIp": sourceIP,
	})
	if err != nil {
		log.Printf("[TRUST] failed to encode audit details for %s: %v", eval.SourceSystem, err)
		details = nil
	}

	failed := make([]string, len(eval.FailedChecks))
	for i, c := range eval.FailedChecks {
		failed[i] = string(c)
	}

	event := &store.AuditEvent{
		EventID:          uuid.New().String(),
		EventType:        store.EventTrustEvaluation,
		SourceSystem:     eval.SourceSystem,
		Protocol:         eval.Protocol,
		TrustScore:       eval.TrustScore,
		ComplianceStatus: string(eval.ComplianceStatus),
		FailedChecks:     failed,
		Details:          details,
		CreatedAt:        eval.EvaluatedAt,
	}

	outcome := AuditOutcome{Attempted: true, EventID: event.EventID}
	if err := e.audit.InsertAuditEvent(ctx, event); err != nil {
		log.Printf("[TRUST] audit write for %s failed: %v", eval.SourceSystem, err)
		observability.AuditWriteFailures.WithLabelValues(store.EventTrustEvaluation).Inc()
		outcome.Err = err
	}
	return outcome
}
