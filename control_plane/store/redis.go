package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/redis/go-redis/v9"
)

// maxAuditEntries caps each audit list; older entries are trimmed on insert.
const maxAuditEntries = 10000

// maxPatchRetries bounds optimistic WATCH retries on a contended mission key.
const maxPatchRetries = 5

// RedisStore implements the Store interface using Redis.
// Missions are JSON documents indexed by a creation-time sorted set; audit
// events are pushed onto capped per-source lists.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the connection.
func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client so other components can share the pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func observeLatency(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

// --- Audit Operations ---

func (s *RedisStore) InsertAuditEvent(ctx context.Context, e *AuditEvent) error {
	defer observeLatency(time.Now())

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, key := range []string{AuditListKey(""), AuditListKey(e.SourceSystem)} {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxAuditEntries-1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListAuditEvents(ctx context.Context, sourceSystem string, limit int) ([]*AuditEvent, error) {
	defer observeLatency(time.Now())

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, AuditListKey(sourceSystem), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*AuditEvent, 0, len(raw))
	for _, item := range raw {
		var e AuditEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit entry: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}

// --- Mission Operations ---

func (s *RedisStore) InsertMission(ctx context.Context, m *MissionRecord) error {
	defer observeLatency(time.Now())

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mission: %w", err)
	}

	ok, err := s.client.SetNX(ctx, ResourceKey(ResourceMission, m.MissionID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mission %s already exists", m.MissionID)
	}
	return s.client.ZAdd(ctx, ResourceIndex(ResourceMission), redis.Z{
		Score:  float64(m.CreatedAt.UnixNano()),
		Member: m.MissionID,
	}).Err()
}

func (s *RedisStore) GetMission(ctx context.Context, missionID string) (*MissionRecord, error) {
	defer observeLatency(time.Now())

	val, err := s.client.Get(ctx, ResourceKey(ResourceMission, missionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m MissionRecord
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, fmt.Errorf("corrupt mission %s: %w", missionID, err)
	}
	return &m, nil
}

// ListMissions walks the creation index newest first and filters by status.
func (s *RedisStore) ListMissions(ctx context.Context, statuses []string, limit int) ([]*MissionRecord, error) {
	defer observeLatency(time.Now())

	ids, err := s.client.ZRevRange(ctx, ResourceIndex(ResourceMission), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*MissionRecord, 0)
	for _, id := range ids {
		m, err := s.GetMission(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue // index entry outlived its document
		}
		if len(statuses) > 0 && !contains(statuses, m.Status) {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *RedisStore) UpdateMissionTasks(ctx context.Context, missionID string, tasks json.RawMessage, completion int, status string) error {
	return s.patchMission(ctx, missionID, func(m *MissionRecord) {
		m.Tasks = tasks
		m.CompletionPercentage = completion
		m.Status = status
	})
}

func (s *RedisStore) UpdateMissionSync(ctx context.Context, missionID string, syncStatus string, syncErrors []string, lastSyncAt time.Time) error {
	return s.patchMission(ctx, missionID, func(m *MissionRecord) {
		m.SyncStatus = syncStatus
		m.SyncErrors = syncErrors
		at := lastSyncAt
		m.LastSyncAt = &at
	})
}

func (s *RedisStore) UpdateMissionStatus(ctx context.Context, missionID string, status string) error {
	return s.patchMission(ctx, missionID, func(m *MissionRecord) {
		m.Status = status
	})
}

// patchMission applies fn to one mission document inside a WATCH transaction
// so concurrent patches of the same row are serialised.
func (s *RedisStore) patchMission(ctx context.Context, missionID string, fn func(m *MissionRecord)) error {
	defer observeLatency(time.Now())

	key := ResourceKey(ResourceMission, missionID)
	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var m MissionRecord
		if err := json.Unmarshal(val, &m); err != nil {
			return fmt.Errorf("corrupt mission %s: %w", missionID, err)
		}
		fn(&m)
		m.UpdatedAt = time.Now()
		data, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxPatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("mission %s: too much write contention", missionID)
}
