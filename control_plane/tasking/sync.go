package tasking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/itskum47/fleetops/control_plane/protocol"
	"github.com/itskum47/fleetops/control_plane/streaming"
	"github.com/itskum47/fleetops/control_plane/timeline"
)

// SyncDecision is a structured log entry for one entity dispatch.
type SyncDecision struct {
	Component string `json:"component"`
	Decision  string `json:"decision"` // DISPATCHED, REJECTED, ERROR
	MissionID string `json:"mission_id"`
	EntityID  string `json:"entity_id"`
	Protocol  string `json:"protocol"`
	Tasks     int    `json:"tasks"`
	LatencyMS int64  `json:"latency_ms"`
	Reason    string `json:"reason,omitempty"`
}

func logDecision(d SyncDecision) {
	bytes, _ := json.Marshal(d)
	log.Println(string(bytes))
}

// entityBatch is the set of tasks bound for one entity.
type entityBatch struct {
	entity ExternalEntity
	tasks  []MissionTask
}

type dispatchOutcome struct {
	ok  bool
	err string
}

// SyncMissionStatus pushes the status of every assigned task to its entity,
// one message per entity, all entities concurrently. A failing entity never
// stops the others. SyncMissionStatus does not return an error: failures are
// reported in the result and persisted as the mission's sync status. The
// passed mission is updated with the new sync fields.
func (c *Coordinator) SyncMissionStatus(ctx context.Context, m *JointMission) (result SyncResult) {
	start := c.now()
	result = SyncResult{Errors: []string{}}
	if m != nil {
		result.MissionID = m.ID
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SYNC] Mission %s sync aborted: %v", result.MissionID, r)
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("sync aborted: %v", r))
		}
		elapsed := c.now().Sub(start)
		result.LatencyMs = elapsed.Milliseconds()
		observability.SyncLatency.Observe(elapsed.Seconds())
	}()

	if m == nil {
		result.Errors = append(result.Errors, ErrMissionNotFound.Error())
		return result
	}

	batches := batchByEntity(m)
	outcomes := make([]dispatchOutcome, len(batches))

	var g errgroup.Group
	if c.syncConcurrency > 0 {
		g.SetLimit(c.syncConcurrency)
	}
	for i := range batches {
		g.Go(func() error {
			outcomes[i] = c.dispatch(ctx, m.ID, batches[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, b := range batches {
		if outcomes[i].ok {
			result.SyncedTasks += len(b.tasks)
		} else {
			result.FailedTasks += len(b.tasks)
			result.Errors = append(result.Errors, outcomes[i].err)
		}
	}
	result.Success = result.FailedTasks == 0

	status := SyncSynced
	switch {
	case result.FailedTasks == 0:
	case result.SyncedTasks > 0:
		status = SyncPartial
	default:
		status = SyncFailed
	}

	syncedAt := c.now()
	if err := c.store.UpdateMissionSync(ctx, m.ID, string(status), result.Errors, syncedAt); err != nil {
		log.Printf("[SYNC] Failed to persist sync status for mission %s: %v", m.ID, err)
	}
	m.SyncStatus = status
	m.SyncErrors = append([]string{}, result.Errors...)
	m.LastSyncAt = &syncedAt

	stage := timeline.StageSynced
	if !result.Success {
		stage = timeline.StageSyncFailed
	}
	c.record(m.ID, stage, "", map[string]string{
		"status": string(status),
		"synced": fmt.Sprint(result.SyncedTasks),
		"failed": fmt.Sprint(result.FailedTasks),
	})
	c.publish(ctx, streaming.TopicMissionSynced, result)
	return result
}

// batchByEntity groups assigned tasks by entity in roster order. Tasks
// assigned to an entity missing from the roster are not sent. A repeated
// entity id gets only the first roster entry's batch.
func batchByEntity(m *JointMission) []entityBatch {
	var batches []entityBatch
	seen := make(map[string]struct{}, len(m.Entities))
	for _, e := range m.Entities {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		var tasks []MissionTask
		for _, t := range m.Tasks {
			if t.AssignedTo == e.ID {
				tasks = append(tasks, t)
			}
		}
		if len(tasks) > 0 {
			batches = append(batches, entityBatch{entity: e, tasks: tasks})
		}
	}
	return batches
}

// dispatch sends one entity's batch. It never panics.
func (c *Coordinator) dispatch(ctx context.Context, missionID string, b entityBatch) (out dispatchOutcome) {
	start := time.Now()
	decision := SyncDecision{
		Component: "sync",
		MissionID: missionID,
		EntityID:  b.entity.ID,
		Protocol:  b.entity.Protocol,
		Tasks:     len(b.tasks),
	}

	defer func() {
		if r := recover(); r != nil {
			out = dispatchOutcome{err: fmt.Sprintf("entity %s: panic: %v", b.entity.ID, r)}
		}
		outcome := "success"
		switch {
		case out.ok:
			decision.Decision = "DISPATCHED"
		case decision.Decision == "REJECTED":
			outcome = "rejected"
		default:
			decision.Decision = "ERROR"
			outcome = "error"
		}
		if !out.ok {
			decision.Reason = out.err
		}
		decision.LatencyMS = time.Since(start).Milliseconds()
		logDecision(decision)
		observability.SyncDispatches.WithLabelValues(b.entity.Protocol, outcome).Inc()
	}()

	summaries := make([]map[string]interface{}, 0, len(b.tasks))
	for _, t := range b.tasks {
		summaries = append(summaries, map[string]interface{}{
			"id":       t.ID,
			"name":     t.Name,
			"status":   t.Status,
			"priority": t.Priority,
		})
	}

	msg := protocol.Message{
		Protocol:     b.entity.Protocol,
		Direction:    protocol.Outbound,
		SourceSystem: c.systemID,
		TargetSystem: b.entity.ID,
		Payload: map[string]interface{}{
			"type":      "mission_task_sync",
			"missionId": missionID,
			"tasks":     summaries,
		},
		Endpoint: b.entity.Endpoint,
	}

	res, err := c.adapter.ProcessMessage(ctx, msg)
	if err != nil {
		return dispatchOutcome{err: fmt.Sprintf("entity %s: %v", b.entity.ID, err)}
	}
	if !res.Success {
		decision.Decision = "REJECTED"
		reason := res.Error
		if reason == "" {
			reason = "dispatch rejected"
		}
		return dispatchOutcome{err: fmt.Sprintf("entity %s: %s", b.entity.ID, reason)}
	}
	return dispatchOutcome{ok: true}
}

// RunSyncLoop re-syncs every assigned or executing mission each interval
// until ctx is done.
func (c *Coordinator) RunSyncLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncActive(ctx)
		}
	}
}

func (c *Coordinator) syncActive(ctx context.Context) {
	missions, err := c.ListMissions(ctx, MissionAssigned, MissionExecuting)
	if err != nil {
		log.Printf("[SYNC] Failed to list active missions: %v", err)
		return
	}
	for _, m := range missions {
		if ctx.Err() != nil {
			return
		}
		if res := c.SyncMissionStatus(ctx, m); !res.Success {
			log.Printf("[SYNC] %v", res.Err())
		}
	}
}
