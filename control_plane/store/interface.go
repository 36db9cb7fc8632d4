package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the datastore collaborator used by the trust evaluator and the
// joint tasking coordinator. It abstracts over Postgres (durable), Redis
// (fast, shared) and an in-memory map for tests and single-node runs.
//
// Getters return (nil, nil) when the row does not exist.
type Store interface {
	// Audit Operations
	InsertAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, sourceSystem string, limit int) ([]*AuditEvent, error)

	// Mission Operations
	InsertMission(ctx context.Context, mission *MissionRecord) error
	GetMission(ctx context.Context, missionID string) (*MissionRecord, error)
	ListMissions(ctx context.Context, statuses []string, limit int) ([]*MissionRecord, error)

	// UpdateMissionTasks writes back the full task array together with the
	// derived completion percentage and mission status.
	UpdateMissionTasks(ctx context.Context, missionID string, tasks json.RawMessage, completion int, status string) error

	// UpdateMissionSync records the outcome of the last sync.
	UpdateMissionSync(ctx context.Context, missionID string, syncStatus string, syncErrors []string, lastSyncAt time.Time) error

	// UpdateMissionStatus sets the mission status directly.
	UpdateMissionStatus(ctx context.Context, missionID string, status string) error
}
