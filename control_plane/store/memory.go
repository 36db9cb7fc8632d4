package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds audit events and missions in memory.
// It implements the Store interface.
type MemoryStore struct {
	mu       sync.RWMutex
	audit    []*AuditEvent
	missions map[string]*MissionRecord
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		audit:    make([]*AuditEvent, 0),
		missions: make(map[string]*MissionRecord),
	}
}

// --- Audit Operations ---

func (s *MemoryStore) InsertAuditEvent(ctx context.Context, e *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, e.clone())
	return nil
}

// ListAuditEvents returns the newest events first.
func (s *MemoryStore) ListAuditEvents(ctx context.Context, sourceSystem string, limit int) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*AuditEvent, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if sourceSystem != "" && e.SourceSystem != sourceSystem {
			continue
		}
		result = append(result, e.clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// --- Mission Operations ---

func (s *MemoryStore) InsertMission(ctx context.Context, m *MissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.missions[m.MissionID] = m.clone()
	return nil
}

func (s *MemoryStore) GetMission(ctx context.Context, missionID string) (*MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.missions[missionID]
	if !ok {
		return nil, nil
	}
	return m.clone(), nil
}

// ListMissions returns missions ordered by creation time, newest first.
// An empty statuses slice matches every mission.
func (s *MemoryStore) ListMissions(ctx context.Context, statuses []string, limit int) ([]*MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*MissionRecord, 0, len(s.missions))
	for _, m := range s.missions {
		if len(statuses) > 0 && !contains(statuses, m.Status) {
			continue
		}
		result = append(result, m.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) UpdateMissionTasks(ctx context.Context, missionID string, tasks json.RawMessage, completion int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return ErrNotFound
	}
	m.Tasks = append(json.RawMessage(nil), tasks...)
	m.CompletionPercentage = completion
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateMissionSync(ctx context.Context, missionID string, syncStatus string, syncErrors []string, lastSyncAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return ErrNotFound
	}
	m.SyncStatus = syncStatus
	m.SyncErrors = append([]string(nil), syncErrors...)
	at := lastSyncAt
	m.LastSyncAt = &at
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateMissionStatus(ctx context.Context, missionID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
