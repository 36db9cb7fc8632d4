package tasking

import (
	"encoding/json"
	"fmt"

	"github.com/itskum47/fleetops/control_plane/store"
)

func toRecord(m *JointMission) (*store.MissionRecord, error) {
	tasks, err := encodeTasks(m.Tasks)
	if err != nil {
		return nil, err
	}
	entities := m.Entities
	if entities == nil {
		entities = []ExternalEntity{}
	}
	rawEntities, err := json.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}

	return &store.MissionRecord{
		MissionID:            m.ID,
		Name:                 m.Name,
		Type:                 string(m.Type),
		Status:               string(m.Status),
		Priority:             string(m.Priority),
		Tasks:                tasks,
		Entities:             rawEntities,
		InternalSystems:      m.InternalSystems,
		Commander:            m.Commander,
		Participants:         m.Participants,
		StartTime:            m.StartTime,
		EndTime:              m.EndTime,
		CompletionPercentage: m.CompletionPercentage,
		SyncStatus:           string(m.SyncStatus),
		SyncErrors:           m.SyncErrors,
		LastSyncAt:           m.LastSyncAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}, nil
}

func fromRecord(rec *store.MissionRecord) (*JointMission, error) {
	m := &JointMission{
		ID:                   rec.MissionID,
		Name:                 rec.Name,
		Type:                 MissionType(rec.Type),
		Status:               MissionStatus(rec.Status),
		Priority:             Priority(rec.Priority),
		InternalSystems:      rec.InternalSystems,
		Commander:            rec.Commander,
		Participants:         rec.Participants,
		StartTime:            rec.StartTime,
		EndTime:              rec.EndTime,
		CompletionPercentage: rec.CompletionPercentage,
		SyncStatus:           SyncStatus(rec.SyncStatus),
		SyncErrors:           rec.SyncErrors,
		LastSyncAt:           rec.LastSyncAt,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}

	tasks, err := decodeTasks(rec.Tasks)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", rec.MissionID, err)
	}
	m.Tasks = tasks

	m.Entities = []ExternalEntity{}
	if len(rec.Entities) > 0 {
		if err := json.Unmarshal(rec.Entities, &m.Entities); err != nil {
			return nil, fmt.Errorf("mission %s: decode entities: %w", rec.MissionID, err)
		}
	}
	if m.SyncErrors == nil {
		m.SyncErrors = []string{}
	}
	if m.InternalSystems == nil {
		m.InternalSystems = []string{}
	}
	return m, nil
}

func encodeTasks(tasks []MissionTask) (json.RawMessage, error) {
	if tasks == nil {
		tasks = []MissionTask{}
	}
	raw, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	return raw, nil
}

func decodeTasks(raw json.RawMessage) ([]MissionTask, error) {
	tasks := []MissionTask{}
	if len(raw) == 0 {
		return tasks, nil
	}
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}
