package tasking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/itskum47/fleetops/control_plane/protocol"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/streaming"
	"github.com/itskum47/fleetops/control_plane/timeline"
)

// DefaultSystemID identifies this coordinator as the source of outbound messages.
const DefaultSystemID = "joint-tasking"

// Coordinator creates missions, splits them into tasks, assigns the tasks to
// external entities and pushes task status to those entities.
type Coordinator struct {
	store           store.Store
	adapter         protocol.Adapter
	publisher       streaming.Publisher
	timeline        *timeline.Store
	systemID        string
	syncConcurrency int
	now             func() time.Time
}

type Option func(*Coordinator)

func WithPublisher(p streaming.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithTimeline(t *timeline.Store) Option {
	return func(c *Coordinator) { c.timeline = t }
}

func WithSystemID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.systemID = id
		}
	}
}

// WithSyncConcurrency caps concurrent entity dispatches per sync. n <= 0
// means unbounded.
func WithSyncConcurrency(n int) Option {
	return func(c *Coordinator) { c.syncConcurrency = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(st store.Store, adapter protocol.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    st,
		adapter:  adapter,
		timeline: timeline.NewStore(),
		systemID: DefaultSystemID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeline exposes the per-mission event trail.
func (c *Coordinator) Timeline() *timeline.Store {
	return c.timeline
}

// CreateMission persists a new mission and returns its generated id. Any id on
// m is ignored. Tasks without an id or status are given one.
func (c *Coordinator) CreateMission(ctx context.Context, m JointMission) (string, error) {
	if err := validateMission(&m); err != nil {
		return "", err
	}
	now := c.now()
	m.ID = uuid.NewString()
	if m.Status == "" {
		m.Status = MissionPlanning
	}
	if m.Priority == "" {
		m.Priority = PriorityMedium
	}
	for i := range m.Tasks {
		if m.Tasks[i].ID == "" {
			m.Tasks[i].ID = uuid.NewString()
		}
		if m.Tasks[i].Status == "" {
			m.Tasks[i].Status = TaskPending
		}
	}
	m.CompletionPercentage = 0
	m.SyncStatus = SyncPending
	m.SyncErrors = []string{}
	m.LastSyncAt = nil
	m.CreatedAt = now
	m.UpdatedAt = now

	rec, err := toRecord(&m)
	if err != nil {
		return "", err
	}
	if err := c.store.InsertMission(ctx, rec); err != nil {
		log.Printf("[TASKING] Failed to persist mission %s: %v", m.Name, err)
		return "", fmt.Errorf("create mission: %w", err)
	}

	c.record(m.ID, timeline.StageCreated, "", map[string]string{"name": m.Name, "type": string(m.Type)})
	c.publish(ctx, streaming.TopicMissionCreated, &m)
	return m.ID, nil
}

// validateMission rejects enum values the coordinator would never produce
// itself and duplicate entity ids. Empty enums are defaulted by the caller.
func validateMission(m *JointMission) error {
	if m.Status != "" && !m.Status.Valid() {
		return fmt.Errorf("%w: mission status %q", ErrInvalidStatus, m.Status)
	}
	if m.Priority != "" && m.Priority.rank() < 0 {
		return fmt.Errorf("%w: priority %q", ErrInvalidStatus, m.Priority)
	}
	for _, t := range m.Tasks {
		if t.Status != "" && !t.Status.Valid() {
			return fmt.Errorf("%w: task status %q", ErrInvalidStatus, t.Status)
		}
		if t.Priority != "" && t.Priority.rank() < 0 {
			return fmt.Errorf("%w: task priority %q", ErrInvalidStatus, t.Priority)
		}
	}
	seen := make(map[string]struct{}, len(m.Entities))
	for _, e := range m.Entities {
		if e.ID == "" {
			return fmt.Errorf("%w: entity %q has no id", ErrInvalidMission, e.Name)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entity id %q", ErrInvalidMission, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// GetMission returns nil when the mission does not exist or cannot be read.
func (c *Coordinator) GetMission(ctx context.Context, missionID string) *JointMission {
	m, err := c.loadMission(ctx, missionID)
	if err != nil {
		if !errors.Is(err, ErrMissionNotFound) {
			log.Printf("[TASKING] Failed to load mission %s: %v", missionID, err)
		}
		return nil
	}
	return m
}

// ListMissions returns missions newest first, optionally filtered by status.
func (c *Coordinator) ListMissions(ctx context.Context, statuses ...MissionStatus) ([]*JointMission, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	recs, err := c.store.ListMissions(ctx, filter, 0)
	if err != nil {
		return nil, err
	}
	missions := make([]*JointMission, 0, len(recs))
	for _, rec := range recs {
		m, err := fromRecord(rec)
		if err != nil {
			log.Printf("[TASKING] Skipping unreadable mission: %v", err)
			continue
		}
		missions = append(missions, m)
	}
	return missions, nil
}

// PlanMission divides the mission with the given strategy, maps the tasks onto
// its entities and stores the result with status assigned. Existing tasks are
// replaced.
func (c *Coordinator) PlanMission(ctx context.Context, missionID string, strategy Strategy) (*JointMission, error) {
	m, err := c.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}

	tasks, err := DivideMission(m, strategy)
	if err != nil {
		return nil, err
	}
	mapping := MapTasksToEntities(tasks, m.Entities)

	raw, err := encodeTasks(tasks)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateMissionTasks(ctx, missionID, raw, 0, string(MissionAssigned)); err != nil {
		return nil, c.storeErr(err)
	}

	m.Tasks = tasks
	m.CompletionPercentage = 0
	m.Status = MissionAssigned

	assigned := 0
	for _, ts := range mapping {
		assigned += len(ts)
	}
	c.record(missionID, timeline.StagePlanned, "", map[string]string{
		"strategy":   string(strategy),
		"tasks":      fmt.Sprint(len(tasks)),
		"unassigned": fmt.Sprint(len(tasks) - assigned),
	})
	return m, nil
}

// SetMissionStatus sets the status directly. Only the value is validated,
// not the transition.
func (c *Coordinator) SetMissionStatus(ctx context.Context, missionID string, status MissionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: mission status %q", ErrInvalidStatus, status)
	}
	if err := c.store.UpdateMissionStatus(ctx, missionID, string(status)); err != nil {
		return c.storeErr(err)
	}
	c.record(missionID, timeline.StageStatus, "", map[string]string{"status": string(status)})
	return nil
}

// UpdateTaskStatus changes one task's status, recomputes the mission's
// completion percentage and marks the mission completed once every task is.
func (c *Coordinator) UpdateTaskStatus(ctx context.Context, missionID, taskID string, status TaskStatus, metadata map[string]interface{}) error {
	if !status.Valid() {
		return fmt.Errorf("%w: task status %q", ErrInvalidStatus, status)
	}

	m, err := c.loadMission(ctx, missionID)
	if err != nil {
		return err
	}

	var task *MissionTask
	for i := range m.Tasks {
		if m.Tasks[i].ID == taskID {
			task = &m.Tasks[i]
			break
		}
	}
	if task == nil {
		return ErrTaskNotFound
	}

	now := c.now()
	task.Status = status
	switch status {
	case TaskInProgress:
		if task.StartTime == nil {
			task.StartTime = &now
		}
	case TaskCompleted, TaskFailed:
		task.EndTime = &now
	}
	if len(metadata) > 0 {
		if task.Metadata == nil {
			task.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			task.Metadata[k] = v
		}
	}

	completion := completionPercentage(m.Tasks)
	missionStatus := m.Status
	if completion == 100 {
		missionStatus = MissionCompleted
	}

	raw, err := encodeTasks(m.Tasks)
	if err != nil {
		return err
	}
	if err := c.store.UpdateMissionTasks(ctx, missionID, raw, completion, string(missionStatus)); err != nil {
		return c.storeErr(err)
	}

	observability.TaskUpdates.WithLabelValues(string(status)).Inc()
	c.record(missionID, timeline.StageTaskUpdated, taskID, map[string]string{
		"status":     string(status),
		"completion": fmt.Sprint(completion),
	})
	if missionStatus == MissionCompleted && m.Status != MissionCompleted {
		c.record(missionID, timeline.StageCompleted, "", nil)
	}
	c.publish(ctx, streaming.TopicTaskUpdated, map[string]interface{}{
		"missionId":            missionID,
		"taskId":               taskID,
		"status":               status,
		"completionPercentage": completion,
		"missionStatus":        missionStatus,
	})
	return nil
}

func (c *Coordinator) loadMission(ctx context.Context, missionID string) (*JointMission, error) {
	rec, err := c.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("load mission %s: %w", missionID, err)
	}
	if rec == nil {
		return nil, ErrMissionNotFound
	}
	return fromRecord(rec)
}

func (c *Coordinator) storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrMissionNotFound
	}
	return err
}

func (c *Coordinator) record(missionID, stage, taskID string, meta map[string]string) {
	if c.timeline == nil {
		return
	}
	c.timeline.Record(timeline.MissionEvent{
		MissionID: missionID,
		Stage:     stage,
		TaskID:    taskID,
		Timestamp: c.now(),
		Metadata:  meta,
	})
}

func (c *Coordinator) publish(ctx context.Context, topic string, payload interface{}) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, topic, payload); err != nil {
		observability.EventPublishFailures.WithLabelValues(topic).Inc()
		log.Printf("[TASKING] Failed to publish %s: %v", topic, err)
	}
}
