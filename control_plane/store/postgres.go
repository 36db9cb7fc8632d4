package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied by Migrate. Column names mirror the JSON field names.
const schema = `
CREATE TABLE IF NOT EXISTS trust_audit_events (
	event_id          TEXT PRIMARY KEY,
	event_type        TEXT NOT NULL,
	source_system     TEXT NOT NULL,
	protocol          TEXT NOT NULL,
	trust_score       INTEGER NOT NULL,
	compliance_status TEXT NOT NULL,
	failed_checks     TEXT[] NOT NULL DEFAULT '{}',
	details           JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS trust_audit_events_source_idx ON trust_audit_events (source_system, created_at DESC);

CREATE TABLE IF NOT EXISTS joint_mission_log (
	mission_id            TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	type                  TEXT NOT NULL,
	status                TEXT NOT NULL,
	priority              TEXT NOT NULL,
	tasks                 JSONB NOT NULL DEFAULT '[]',
	entities              JSONB NOT NULL DEFAULT '[]',
	internal_systems      TEXT[] NOT NULL DEFAULT '{}',
	commander             TEXT NOT NULL DEFAULT '',
	participants          TEXT[] NOT NULL DEFAULT '{}',
	start_time            TIMESTAMPTZ,
	end_time              TIMESTAMPTZ,
	completion_percentage INTEGER NOT NULL DEFAULT 0,
	sync_status           TEXT NOT NULL,
	sync_errors           TEXT[] NOT NULL DEFAULT '{}',
	last_sync_at          TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS joint_mission_log_status_idx ON joint_mission_log (status);
`

const missionColumns = `mission_id, name, type, status, priority, tasks, entities, internal_systems, commander, participants,
	start_time, end_time, completion_percentage, sync_status, sync_errors, last_sync_at, created_at, updated_at`

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the audit and mission tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Audit Operations ---

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, e *AuditEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO trust_audit_events (event_id, event_type, source_system, protocol, trust_score, compliance_status, failed_checks, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		e.EventID, e.EventType, e.SourceSystem, e.Protocol, e.TrustScore,
		e.ComplianceStatus, nonNil(e.FailedChecks), nullableJSON(e.Details), e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, sourceSystem string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, event_type, source_system, protocol, trust_score, compliance_status, failed_checks, details, created_at
		FROM trust_audit_events
		WHERE ($1 = '' OR source_system = $1)
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, sourceSystem, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var details []byte
		if err := rows.Scan(
			&e.EventID, &e.EventType, &e.SourceSystem, &e.Protocol, &e.TrustScore,
			&e.ComplianceStatus, &e.FailedChecks, &details, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Details = details
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Mission Operations ---

func (s *PostgresStore) InsertMission(ctx context.Context, m *MissionRecord) error {
	query := `
		INSERT INTO joint_mission_log (` + missionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
	`
	_, err := s.pool.Exec(ctx, query,
		m.MissionID, m.Name, m.Type, m.Status, m.Priority,
		jsonOrEmptyArray(m.Tasks), jsonOrEmptyArray(m.Entities), nonNil(m.InternalSystems),
		m.Commander, nonNil(m.Participants), m.StartTime, m.EndTime,
		m.CompletionPercentage, m.SyncStatus, nonNil(m.SyncErrors), m.LastSyncAt,
	)
	return err
}

func (s *PostgresStore) GetMission(ctx context.Context, missionID string) (*MissionRecord, error) {
	query := `SELECT ` + missionColumns + ` FROM joint_mission_log WHERE mission_id = $1`
	m, err := scanMission(s.pool.QueryRow(ctx, query, missionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListMissions(ctx context.Context, statuses []string, limit int) ([]*MissionRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + missionColumns + ` FROM joint_mission_log
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1))
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, nonNil(statuses), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []*MissionRecord
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

func (s *PostgresStore) UpdateMissionTasks(ctx context.Context, missionID string, tasks json.RawMessage, completion int, status string) error {
	query := `
		UPDATE joint_mission_log
		SET tasks = $2, completion_percentage = $3, status = $4, updated_at = NOW()
		WHERE mission_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, missionID, jsonOrEmptyArray(tasks), completion, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateMissionSync(ctx context.Context, missionID string, syncStatus string, syncErrors []string, lastSyncAt time.Time) error {
	query := `
		UPDATE joint_mission_log
		SET sync_status = $2, sync_errors = $3, last_sync_at = $4, updated_at = NOW()
		WHERE mission_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, missionID, syncStatus, nonNil(syncErrors), lastSyncAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateMissionStatus(ctx context.Context, missionID string, status string) error {
	query := `UPDATE joint_mission_log SET status = $2, updated_at = NOW() WHERE mission_id = $1`
	tag, err := s.pool.Exec(ctx, query, missionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMission(row pgx.Row) (*MissionRecord, error) {
	var m MissionRecord
	var tasks, entities []byte
	err := row.Scan(
		&m.MissionID, &m.Name, &m.Type, &m.Status, &m.Priority,
		&tasks, &entities, &m.InternalSystems, &m.Commander, &m.Participants,
		&m.StartTime, &m.EndTime, &m.CompletionPercentage, &m.SyncStatus, &m.SyncErrors,
		&m.LastSyncAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Tasks = tasks
	m.Entities = entities
	return &m, nil
}

// nonNil keeps NOT NULL text[] columns from receiving SQL NULL.
func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func jsonOrEmptyArray(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
