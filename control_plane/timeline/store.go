package timeline

import (
	"sync"
	"time"
)

// Mission lifecycle stages.
const (
	StageCreated     = "CREATED"
	StagePlanned     = "PLANNED"
	StageStatus      = "STATUS_CHANGED"
	StageTaskUpdated = "TASK_UPDATED"
	StageSynced      = "SYNCED"
	StageSyncFailed  = "SYNC_FAILED"
	StageCompleted   = "COMPLETED"
)

// defaultCapacity bounds the in-memory timeline; oldest events are dropped.
const defaultCapacity = 10000

type MissionEvent struct {
	MissionID string            `json:"mission_id"`
	Stage     string            `json:"stage"`
	Timestamp time.Time         `json:"timestamp"`
	TaskID    string            `json:"task_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Store struct {
	events   []MissionEvent
	capacity int
	mu       sync.RWMutex
}

func NewStore() *Store {
	return NewStoreWithCapacity(defaultCapacity)
}

func NewStoreWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		events:   make([]MissionEvent, 0),
		capacity: capacity,
	}
}

func (s *Store) Record(e MissionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
}

// GetEvents returns the events of one mission in recording order.
func (s *Store) GetEvents(missionID string) []MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]MissionEvent, 0)
	for _, e := range s.events {
		if e.MissionID == missionID {
			results = append(results, e)
		}
	}
	return results
}

// GetEventsByTask returns the events recorded against a single task.
func (s *Store) GetEventsByTask(missionID, taskID string) []MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]MissionEvent, 0)
	for _, e := range s.events {
		if e.MissionID == missionID && e.TaskID == taskID {
			results = append(results, e)
		}
	}
	return results
}

// GetAllEvents returns a copy of every retained event.
func (s *Store) GetAllEvents() []MissionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make([]MissionEvent, len(s.events))
	copy(c, s.events)
	return c
}
