package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreMissionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := &MissionRecord{
		MissionID:  "m-1",
		Name:       "Harbor patrol",
		Status:     "planning",
		SyncStatus: "pending",
		Tasks:      json.RawMessage(`[]`),
	}
	require.NoError(t, s.InsertMission(ctx, rec))

	got, err := s.GetMission(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Harbor patrol", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	// Mutating the returned copy must not leak into the store.
	got.Name = "changed"
	again, _ := s.GetMission(ctx, "m-1")
	assert.Equal(t, "Harbor patrol", again.Name)

	require.NoError(t, s.UpdateMissionTasks(ctx, "m-1", json.RawMessage(`[{"id":"t1"}]`), 50, "executing"))
	now := time.Now()
	require.NoError(t, s.UpdateMissionSync(ctx, "m-1", "partial", []string{"boom"}, now))

	got, _ = s.GetMission(ctx, "m-1")
	assert.Equal(t, 50, got.CompletionPercentage)
	assert.Equal(t, "executing", got.Status)
	assert.JSONEq(t, `[{"id":"t1"}]`, string(got.Tasks))
	assert.Equal(t, "partial", got.SyncStatus)
	assert.Equal(t, []string{"boom"}, got.SyncErrors)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(now))
}

func TestMemoryStoreMissingMission(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.GetMission(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.UpdateMissionTasks(ctx, "nope", nil, 0, "planning"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateMissionSync(ctx, "nope", "synced", nil, time.Now()), ErrNotFound)
	assert.ErrorIs(t, s.UpdateMissionStatus(ctx, "nope", "paused"), ErrNotFound)
}

func TestMemoryStoreListMissionsFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, status := range []string{"planning", "executing", "assigned"} {
		require.NoError(t, s.InsertMission(ctx, &MissionRecord{
			MissionID: string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListMissions(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].MissionID, "newest first")

	active, err := s.ListMissions(ctx, []string{"assigned", "executing"}, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	limited, _ := s.ListMissions(ctx, nil, 1)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreAuditEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, src := range []string{"vessel-1", "vessel-2", "vessel-1"} {
		require.NoError(t, s.InsertAuditEvent(ctx, &AuditEvent{
			EventID:      src,
			EventType:    EventTrustEvaluation,
			SourceSystem: src,
		}))
	}

	all, err := s.ListAuditEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	v1, err := s.ListAuditEvents(ctx, "vessel-1", 0)
	require.NoError(t, err)
	assert.Len(t, v1, 2)

	one, _ := s.ListAuditEvents(ctx, "", 1)
	assert.Len(t, one, 1)
}

func TestResourceKeys(t *testing.T) {
	assert.Equal(t, "fleetops:missions:m-1", ResourceKey(ResourceMission, "m-1"))
	assert.Equal(t, "fleetops:missions:index", ResourceIndex(ResourceMission))
	assert.Equal(t, "fleetops:audit:all", AuditListKey(""))
	assert.Equal(t, "fleetops:audit:source:ais-gw", AuditListKey("ais-gw"))
}
