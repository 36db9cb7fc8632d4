package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by update operations that matched no row.
var ErrNotFound = errors.New("record not found")

// Event types written to the audit table.
const (
	EventTrustEvaluation = "trust_evaluation"
)

// AuditEvent is one row of the trust audit table.
type AuditEvent struct {
	EventID          string          `json:"event_id" db:"event_id"`
	EventType        string          `json:"event_type" db:"event_type"`
	SourceSystem     string          `json:"source_system" db:"source_system"`
	Protocol         string          `json:"protocol" db:"protocol"`
	TrustScore       int             `json:"trust_score" db:"trust_score"`
	ComplianceStatus string          `json:"compliance_status" db:"compliance_status"`
	FailedChecks     []string        `json:"failed_checks" db:"failed_checks"`
	Details          json.RawMessage `json:"details,omitempty" db:"details"` // JSONB in Postgres
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// MissionRecord is one row of the mission log table. Tasks and entities are
// stored as opaque JSON documents owned by the tasking package.
type MissionRecord struct {
	MissionID            string          `json:"mission_id" db:"mission_id"`
	Name                 string          `json:"name" db:"name"`
	Type                 string          `json:"type" db:"type"`
	Status               string          `json:"status" db:"status"`
	Priority             string          `json:"priority" db:"priority"`
	Tasks                json.RawMessage `json:"tasks" db:"tasks"`       // JSONB
	Entities             json.RawMessage `json:"entities" db:"entities"` // JSONB
	InternalSystems      []string        `json:"internal_systems" db:"internal_systems"`
	Commander            string          `json:"commander,omitempty" db:"commander"`
	Participants         []string        `json:"participants,omitempty" db:"participants"`
	StartTime            *time.Time      `json:"start_time,omitempty" db:"start_time"`
	EndTime              *time.Time      `json:"end_time,omitempty" db:"end_time"`
	CompletionPercentage int             `json:"completion_percentage" db:"completion_percentage"`
	SyncStatus           string          `json:"sync_status" db:"sync_status"`
	SyncErrors           []string        `json:"sync_errors" db:"sync_errors"`
	LastSyncAt           *time.Time      `json:"last_sync_at,omitempty" db:"last_sync_at"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// clone returns a deep copy so callers never alias stored slices.
func (m *MissionRecord) clone() *MissionRecord {
	c := *m
	c.Tasks = append(json.RawMessage(nil), m.Tasks...)
	c.Entities = append(json.RawMessage(nil), m.Entities...)
	c.InternalSystems = append([]string(nil), m.InternalSystems...)
	c.Participants = append([]string(nil), m.Participants...)
	c.SyncErrors = append([]string(nil), m.SyncErrors...)
	if m.StartTime != nil {
		t := *m.StartTime
		c.StartTime = &t
	}
	if m.EndTime != nil {
		t := *m.EndTime
		c.EndTime = &t
	}
	if m.LastSyncAt != nil {
		t := *m.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

func (e *AuditEvent) clone() *AuditEvent {
	c := *e
	c.FailedChecks = append([]string(nil), e.FailedChecks...)
	c.Details = append(json.RawMessage(nil), e.Details...)
	return &c
}
