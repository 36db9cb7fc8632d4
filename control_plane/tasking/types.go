package tasking

import (
	"errors"
	"fmt"
	"time"
)

type MissionType string

const (
	MissionSearchRescue MissionType = "search_rescue"
	MissionPatrol       MissionType = "patrol"
	MissionSurveillance MissionType = "surveillance"
	MissionInterdiction MissionType = "interdiction"
	MissionLogistics    MissionType = "logistics"
	MissionExercise     MissionType = "exercise"
)

// MissionStatus follows planning -> assigned -> executing -> (paused <-> executing)
// -> completed | failed | cancelled. Only the transition to completed is derived;
// every other transition is set by the caller.
type MissionStatus string

const (
	MissionPlanning  MissionStatus = "planning"
	MissionAssigned  MissionStatus = "assigned"
	MissionExecuting MissionStatus = "executing"
	MissionPaused    MissionStatus = "paused"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
	MissionCancelled MissionStatus = "cancelled"
)

func (s MissionStatus) Valid() bool {
	switch s {
	case MissionPlanning, MissionAssigned, MissionExecuting, MissionPaused,
		MissionCompleted, MissionFailed, MissionCancelled:
		return true
	}
	return false
}

// Priority tiers, lowest first.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityCritical  Priority = "critical"
	PriorityEmergency Priority = "emergency"
)

var priorityOrder = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityEmergency}

// rank returns the tier index, or -1 for an unknown priority.
func (p Priority) rank() int {
	for i, tier := range priorityOrder {
		if tier == p {
			return i
		}
	}
	return -1
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

type EntityType string

const (
	EntitySystem   EntityType = "system"
	EntityVessel   EntityType = "vessel"
	EntityAircraft EntityType = "aircraft"
	EntityUnit     EntityType = "unit"
	EntityStation  EntityType = "station"
)

type EntityStatus string

const (
	EntityAvailable EntityStatus = "available"
	EntityBusy      EntityStatus = "busy"
	EntityOffline   EntityStatus = "offline"
)

// GeneralCapability lets an entity take tasks of any type.
const GeneralCapability = "general"

// MissionTask is one unit of work. Dependencies are informational and are
// never enforced.
type MissionTask struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Type         string                 `json:"type"`
	Priority     Priority               `json:"priority"`
	AssignedTo   string                 `json:"assignedTo,omitempty"`
	Status       TaskStatus             `json:"status"`
	StartTime    *time.Time             `json:"startTime,omitempty"`
	EndTime      *time.Time             `json:"endTime,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ExternalEntity is read-only to the coordinator.
type ExternalEntity struct {
	ID           string       `json:"id"`
	Type         EntityType   `json:"type"`
	Name         string       `json:"name"`
	Protocol     string       `json:"protocol"`
	Endpoint     string       `json:"endpoint,omitempty"`
	Capabilities []string     `json:"capabilities"`
	Status       EntityStatus `json:"status"`
}

func (e ExternalEntity) hasCapability(c string) bool {
	for _, have := range e.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// canTake reports whether the entity may be assigned a task of taskType.
func (e ExternalEntity) canTake(taskType string) bool {
	return e.Status == EntityAvailable && (e.hasCapability(taskType) || e.hasCapability(GeneralCapability))
}

type JointMission struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Type                 MissionType      `json:"type"`
	Status               MissionStatus    `json:"status"`
	Priority             Priority         `json:"priority"`
	Tasks                []MissionTask    `json:"tasks"`
	Entities             []ExternalEntity `json:"entities"`
	InternalSystems      []string         `json:"internalSystems"`
	Commander            string           `json:"commander,omitempty"`
	Participants         []string         `json:"participants,omitempty"`
	StartTime            *time.Time       `json:"startTime,omitempty"`
	EndTime              *time.Time       `json:"endTime,omitempty"`
	CompletionPercentage int              `json:"completionPercentage"`
	SyncStatus           SyncStatus       `json:"syncStatus"`
	SyncErrors           []string         `json:"syncErrors"`
	LastSyncAt           *time.Time       `json:"lastSyncAt,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// Unassigned returns the tasks no entity has been mapped to.
func (m *JointMission) Unassigned() []MissionTask {
	var out []MissionTask
	for _, t := range m.Tasks {
		if t.AssignedTo == "" {
			out = append(out, t)
		}
	}
	return out
}

// SyncResult describes one SyncMissionStatus call.
type SyncResult struct {
	MissionID   string   `json:"missionId"`
	Success     bool     `json:"success"`
	SyncedTasks int      `json:"syncedTasks"`
	FailedTasks int      `json:"failedTasks"`
	Errors      []string `json:"errors"`
	LatencyMs   int64    `json:"latencyMs"`
}

// Err returns a *PartialSyncError when the sync was not fully successful.
func (r SyncResult) Err() error {
	if r.Success {
		return nil
	}
	return &PartialSyncError{
		MissionID: r.MissionID,
		Synced:    r.SyncedTasks,
		Failed:    r.FailedTasks,
		Errors:    r.Errors,
	}
}

var (
	ErrMissionNotFound = errors.New("Mission not found")
	ErrTaskNotFound    = errors.New("Task not found")
	ErrUnknownStrategy = errors.New("unknown division strategy")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidMission  = errors.New("invalid mission")
)

// PartialSyncError represents a sync where at least one entity dispatch failed.
type PartialSyncError struct {
	MissionID string
	Synced    int
	Failed    int
	Errors    []string
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("mission %s sync partial failure: %d tasks synced, %d failed (%d errors)",
		e.MissionID, e.Synced, e.Failed, len(e.Errors))
}
