package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrustEvaluations counts evaluations by resulting compliance status.
	TrustEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_trust_evaluations_total",
		Help: "Total number of trust evaluations by compliance status",
	}, []string{"status"})

	// TrustScore tracks the distribution of computed trust scores.
	TrustScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetops_trust_score",
		Help:    "Distribution of computed trust scores (0-100)",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	// TrustChecksFailed counts individual check failures.
	TrustChecksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_trust_checks_failed_total",
		Help: "Total number of failed trust checks by check name",
	}, []string{"check"})

	// AuditWriteFailures tracks audit events that could not be persisted.
	// Evaluations still succeed; this is the only signal of the loss.
	AuditWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_audit_write_failures_total",
		Help: "Audit events dropped because the datastore write failed",
	}, []string{"event_type"})

	// SyncLatency tracks end-to-end mission sync latency.
	SyncLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetops_sync_latency_seconds",
		Help:    "Mission status sync latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// SyncDispatches counts per-entity protocol dispatches by outcome.
	SyncDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_sync_dispatch_total",
		Help: "Per-entity sync dispatches",
	}, []string{"protocol", "outcome"}) // outcome: success, rejected, error

	// UnassignedTasks counts tasks the mapper could not place on any entity.
	UnassignedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetops_unassigned_tasks_total",
		Help: "Tasks left unassigned because no available entity had a matching capability",
	})

	// TaskUpdates counts task status transitions.
	TaskUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_mission_task_updates_total",
		Help: "Task status updates applied to missions",
	}, []string{"status"})

	// RedisLatency tracks Redis operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetops_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// DispatchRateLimited counts messages refused by the per-target limiter.
	DispatchRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_dispatch_rate_limited_total",
		Help: "Outbound protocol messages refused by the per-target rate limiter",
	}, []string{"target"})

	// DispatchCircuitOpen counts messages refused because the target's circuit is open.
	DispatchCircuitOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_dispatch_circuit_open_total",
		Help: "Outbound protocol messages refused by an open circuit",
	}, []string{"target"})

	// EventPublishFailures tracks failed event publish attempts (non-blocking).
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_event_publish_failures_total",
		Help: "Failed event publish attempts (non-blocking, best-effort)",
	}, []string{"topic"})

	// ConnectedStreamClients tracks websocket subscribers.
	ConnectedStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetops_ws_clients",
		Help: "Current number of connected event stream clients",
	})

	// APIRateLimited counts requests rejected by API storm protection.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_api_rate_limited_total",
		Help: "Requests rejected with 429 by endpoint",
	}, []string{"endpoint"})

	// IdempotentReplays counts responses served from the idempotency cache.
	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetops_idempotent_replays_total",
		Help: "Responses replayed for a repeated idempotency key",
	})

	// LeaderStatus is 1 while this replica owns the sync lease.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetops_sync_leader",
		Help: "Whether this replica currently runs the mission sync loop (1) or not (0)",
	})

	// LeadershipTransitions counts sync lease changes by node and event
	// (acquired, lost).
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_leadership_transitions_total",
		Help: "Sync lease acquisitions and losses",
	}, []string{"node", "event"})
)
