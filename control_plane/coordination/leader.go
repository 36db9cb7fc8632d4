package coordination

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itskum47/fleetops/control_plane/observability"
)

// SyncLeaseKey is the lease replicas compete for before running the
// periodic mission sync.
const SyncLeaseKey = "fleetops:lock:sync-leader"

type LeaseMetadata struct {
	OwnerNode string    `json:"owner_node"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderElector holds a lease while it can and runs the onElected callback
// with a context that is cancelled as soon as leadership is lost.
type LeaderElector struct {
	lease   Lease
	nodeID  string
	lockKey string
	ttl     time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	leaderCancel context.CancelFunc
	transitions  int64

	onElected func(context.Context)
	onLost    func()
}

type LeaderState struct {
	IsLeader    bool   `json:"is_leader"`
	Transitions int64  `json:"transitions"`
	NodeID      string `json:"node_id"`
}

func NewLeaderElector(lease Lease, key, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{
		lease:   lease,
		nodeID:  nodeID,
		lockKey: key,
		ttl:     ttl,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

// Run campaigns for the lease until ctx is done, then releases it.
func (l *LeaderElector) Run(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	// First attempt is immediate.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.stepDown()
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.lease.Renew(ctx, l.lockKey, l.value(), l.ttl)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("[LEADER] Renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						log.Printf("[LEADER] Too many renew failures, stepping down")
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader()
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("[LEADER] Backing off for %v", interval)
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// State returns a snapshot for diagnostics.
func (l *LeaderElector) State() LeaderState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LeaderState{IsLeader: l.isLeader, Transitions: l.transitions, NodeID: l.nodeID}
}

func (l *LeaderElector) value() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentValue
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	meta := LeaseMetadata{
		OwnerNode: l.nodeID,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
	}
	b, _ := json.Marshal(meta)
	val := string(b)

	acquired, err := l.lease.Acquire(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		log.Printf("[LEADER] Failed to acquire lease: %v", err)
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) release() {
	val := l.value()
	if val == "" {
		return
	}
	// The caller's context is usually already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.lease.Release(ctx, l.lockKey, val); err != nil {
		log.Printf("[LEADER] Release failed: %v", err)
	}
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.transitions++
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeaderStatus.Set(1)
	log.Printf("[LEADER] Node %s acquired %s", l.nodeID, l.lockKey)

	if l.onElected != nil {
		go l.onElected(ctx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	if l.leaderCancel != nil {
		l.leaderCancel()
		l.leaderCancel = nil
	}
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	observability.LeaderStatus.Set(0)
	log.Printf("[LEADER] Node %s lost %s", l.nodeID, l.lockKey)

	if l.onLost != nil {
		l.onLost()
	}
}
