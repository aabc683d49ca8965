// Package store persists durable universe facts to Postgres. Memory is
// the authority; writes here are best-effort durability so a restart
// does not forget agents, tokens, or solve records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"opengrid/internal/universe"
)

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(pool *pgxpool.Pool, log *slog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

var migrations = []string{
	`CREATE SCHEMA IF NOT EXISTS universe`,
	`CREATE TABLE IF NOT EXISTS universe.agents (
		identity    TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		token       TEXT NOT NULL UNIQUE,
		spawned     BOOLEAN NOT NULL DEFAULT FALSE,
		x           BIGINT NOT NULL DEFAULT 0,
		y           BIGINT NOT NULL DEFAULT 0,
		exp         BIGINT NOT NULL DEFAULT 0,
		spawned_at  TIMESTAMPTZ,
		last_active TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS universe.solves (
		city_key    TEXT PRIMARY KEY,
		chunk_x     BIGINT NOT NULL,
		chunk_y     BIGINT NOT NULL,
		local_x     BIGINT NOT NULL,
		local_y     BIGINT NOT NULL,
		solver      TEXT NOT NULL,
		reward      BIGINT NOT NULL,
		actual_cost DOUBLE PRECISION NOT NULL,
		solved_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS universe.events (
		id          UUID PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		kind        TEXT NOT NULL,
		agent       TEXT NOT NULL,
		payload     JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_occurred_at_idx ON universe.events (occurred_at)`,
}

// Migrate creates the schema and tables. Statements are idempotent and
// safe to run on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// AgentRow is one registered identity, spawned or not.
type AgentRow struct {
	Identity   string
	Name       string
	Token      string
	Spawned    bool
	X, Y       int
	Exp        int64
	SpawnedAt  time.Time
	LastActive time.Time
}

func (s *Store) SaveAgent(ctx context.Context, row AgentRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO universe.agents (identity, name, token, spawned, x, y, exp, spawned_at, last_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity) DO UPDATE SET
			name = EXCLUDED.name,
			spawned = EXCLUDED.spawned,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			exp = EXCLUDED.exp,
			spawned_at = EXCLUDED.spawned_at,
			last_active = EXCLUDED.last_active`,
		row.Identity, row.Name, row.Token, row.Spawned, row.X, row.Y, row.Exp,
		nullableTime(row.SpawnedAt), row.LastActive)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", row.Identity, err)
	}
	return nil
}

// MarkDespawned keeps the registration (identity and token survive
// eviction) but clears the live flag.
func (s *Store) MarkDespawned(ctx context.Context, identity string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE universe.agents SET spawned = FALSE WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("mark despawned %s: %w", identity, err)
	}
	return nil
}

func (s *Store) LoadAgents(ctx context.Context) ([]AgentRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity, name, token, spawned, x, y, exp,
		       COALESCE(spawned_at, last_active), last_active
		FROM universe.agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	var out []AgentRow
	for rows.Next() {
		var r AgentRow
		if err := rows.Scan(&r.Identity, &r.Name, &r.Token, &r.Spawned,
			&r.X, &r.Y, &r.Exp, &r.SpawnedAt, &r.LastActive); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveSolve(ctx context.Context, rec universe.SolveRecord) error {
	// First-write-wins is enforced in memory; the conflict clause only
	// guards against replaying the journal over an existing row.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO universe.solves (city_key, chunk_x, chunk_y, local_x, local_y, solver, reward, actual_cost, solved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (city_key) DO NOTHING`,
		rec.CityKey, rec.Chunk.X, rec.Chunk.Y, rec.LocalX, rec.LocalY,
		rec.Solver, rec.Reward, rec.ActualCost, rec.SolvedAt)
	if err != nil {
		return fmt.Errorf("save solve %s: %w", rec.CityKey, err)
	}
	return nil
}

func (s *Store) LoadSolves(ctx context.Context) ([]universe.SolveRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT city_key, chunk_x, chunk_y, local_x, local_y, solver, reward, actual_cost, solved_at
		FROM universe.solves`)
	if err != nil {
		return nil, fmt.Errorf("load solves: %w", err)
	}
	defer rows.Close()

	var out []universe.SolveRecord
	for rows.Next() {
		var rec universe.SolveRecord
		if err := rows.Scan(&rec.CityKey, &rec.Chunk.X, &rec.Chunk.Y,
			&rec.LocalX, &rec.LocalY, &rec.Solver, &rec.Reward,
			&rec.ActualCost, &rec.SolvedAt); err != nil {
			return nil, fmt.Errorf("scan solve: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertEvent(ctx context.Context, ev universe.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO universe.events (id, occurred_at, kind, agent, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.At, string(ev.Kind), ev.Agent, payload)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

// ArchiveExpiredEvents streams the payload of every event older than
// cutoff into sink (oldest first), then deletes the archived rows in
// the same transaction. Returns the archived count.
func (s *Store) ArchiveExpiredEvents(ctx context.Context, cutoff time.Time, sink func(payload []byte) error) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT payload FROM universe.events
		WHERE occurred_at < $1 ORDER BY occurred_at`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired events: %w", err)
	}
	count := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan event payload: %w", err)
		}
		if err := sink(payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("archive sink: %w", err)
		}
		count++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if count > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM universe.events WHERE occurred_at < $1`, cutoff); err != nil {
			return 0, fmt.Errorf("delete archived events: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return count, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
