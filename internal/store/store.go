// Package store is the sqlite persistence layer for the engine-touched
// entities. One writer per process is assumed for the tick loop; the queue
// worker may run in other processes against the same file, so every write
// path goes through busy_timeout plus transient-error retries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agentcity.ai/internal/engine"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS actors (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			frozen INTEGER NOT NULL DEFAULT 0,
			dead INTEGER NOT NULL DEFAULT 0,
			jailed INTEGER NOT NULL DEFAULT 0,
			reputation INTEGER NOT NULL DEFAULT 0,
			luck REAL NOT NULL DEFAULT 0,
			rpc_endpoint TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS agent_states (
			actor_id TEXT PRIMARY KEY,
			energy INTEGER NOT NULL DEFAULT 100,
			hunger INTEGER NOT NULL DEFAULT 100,
			health INTEGER NOT NULL DEFAULT 100,
			social INTEGER NOT NULL DEFAULT 50,
			fun INTEGER NOT NULL DEFAULT 50,
			purpose INTEGER NOT NULL DEFAULT 50,
			activity_state TEXT NOT NULL DEFAULT 'IDLE',
			activity_end_tick INTEGER NOT NULL DEFAULT 0,
			job_id TEXT NOT NULL DEFAULT '',
			work_segments INTEGER NOT NULL DEFAULT 0,
			gamble_wins INTEGER NOT NULL DEFAULT 0,
			gamble_losses INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS wallets (
			actor_id TEXT PRIMARY KEY,
			balance_sbyte INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS intents (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			type TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			priority REAL NOT NULL DEFAULT 0,
			tick INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			source TEXT NOT NULL DEFAULT 'agent',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status_tick ON intents(status, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_actor ON intents(actor_id);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			type TEXT NOT NULL,
			target_ids TEXT NOT NULL DEFAULT '[]',
			tick INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			side_effects TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor_tick ON events(actor_id, tick);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			from_actor TEXT NOT NULL,
			to_actor TEXT NOT NULL,
			amount INTEGER NOT NULL,
			net_amount INTEGER NOT NULL DEFAULT 0,
			platform_fee INTEGER NOT NULL DEFAULT 0,
			city_fee INTEGER NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS onchain_jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			payload TEXT NOT NULL DEFAULT '{}',
			actor_id TEXT NOT NULL DEFAULT '',
			related_intent_id TEXT NOT NULL DEFAULT '',
			related_tx_id TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			tx_hash TEXT NOT NULL DEFAULT '',
			locked_by TEXT NOT NULL DEFAULT '',
			locked_at TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_attempt ON onchain_jobs(status, next_attempt_at);`,
		`CREATE TABLE IF NOT EXISTS onchain_steps (
			job_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			net_amount INTEGER NOT NULL DEFAULT 0,
			platform_fee INTEGER NOT NULL DEFAULT 0,
			city_fee INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (job_id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS onchain_failures (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// PendingIntents selects the actionable backlog for a tick: pending rows
// scheduled at or before it, excluding the privileged suggestion channel,
// ordered priority desc then created_at asc with the id as the final stable
// tie-break.
func (s *Store) PendingIntents(ctx context.Context, tick uint64) ([]engine.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, type, params, priority, tick, status, source, created_at
		FROM intents
		WHERE status = 'pending' AND tick <= ? AND source <> 'suggestion'
		ORDER BY priority DESC, created_at ASC, id ASC`, int64(tick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Intent
	for rows.Next() {
		it, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(r rowScanner) (engine.Intent, error) {
	var (
		it        engine.Intent
		params    string
		tick      int64
		createdAt string
	)
	if err := r.Scan(&it.ID, &it.ActorID, &it.Type, &params, &it.Priority, &tick, &it.Status, &it.Source, &createdAt); err != nil {
		return it, err
	}
	it.Tick = uint64(tick)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &it.Params); err != nil {
			return it, fmt.Errorf("intent %s params: %w", it.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		it.CreatedAt = t
	}
	return it, nil
}

// GetIntent returns a single intent row, nil if absent.
func (s *Store) GetIntent(ctx context.Context, id string) (*engine.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, actor_id, type, params, priority, tick, status, source, created_at
		FROM intents WHERE id = ?`, id)
	it, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// InsertIntent writes a new pending intent (agent decision or suggestion).
func (s *Store) InsertIntent(ctx context.Context, it engine.Intent) error {
	if it.Params == nil {
		it.Params = engine.Params{}
	}
	params, err := json.Marshal(it.Params)
	if err != nil {
		return err
	}
	if it.Status == "" {
		it.Status = engine.IntentPending
	}
	if it.Source == "" {
		it.Source = engine.SourceAgent
	}
	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO intents(id, actor_id, type, params, priority, tick, status, source, created_at)
			VALUES(?,?,?,?,?,?,?,?,?)`,
			it.ID, it.ActorID, it.Type, string(params), it.Priority, int64(it.Tick),
			string(it.Status), it.Source, createdAt.Format(time.RFC3339Nano))
		return err
	})
}

func (s *Store) ActorSnapshot(ctx context.Context, actorID string) (*engine.Actor, error) {
	var (
		a                    engine.Actor
		frozen, dead, jailed int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, frozen, dead, jailed, reputation, luck, rpc_endpoint
		FROM actors WHERE id = ?`, actorID).
		Scan(&a.ID, &a.Kind, &frozen, &dead, &jailed, &a.Reputation, &a.Luck, &a.RPCEndpoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Frozen = frozen != 0
	a.Dead = dead != 0
	a.Jailed = jailed != 0
	return &a, nil
}

func (s *Store) AgentStateSnapshot(ctx context.Context, actorID string) (*engine.AgentState, error) {
	var (
		st      engine.AgentState
		endTick int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT actor_id, energy, hunger, health, social, fun, purpose,
		       activity_state, activity_end_tick, job_id, work_segments,
		       gamble_wins, gamble_losses
		FROM agent_states WHERE actor_id = ?`, actorID).
		Scan(&st.ActorID, &st.Energy, &st.Hunger, &st.Health, &st.Social, &st.Fun,
			&st.Purpose, &st.ActivityState, &endTick, &st.JobID, &st.WorkSegments,
			&st.GambleWins, &st.GambleLosses)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.ActivityEndTick = uint64(endTick)
	return &st, nil
}

func (s *Store) WalletSnapshot(ctx context.Context, actorID string) (*engine.Wallet, error) {
	var w engine.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT actor_id, balance_sbyte FROM wallets WHERE actor_id = ?`, actorID).
		Scan(&w.ActorID, &w.BalanceSbyte)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) SetWalletBalance(ctx context.Context, actorID string, balance int64) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO wallets(actor_id, balance_sbyte) VALUES(?,?)
			ON CONFLICT(actor_id) DO UPDATE SET balance_sbyte = excluded.balance_sbyte`,
			actorID, balance)
		return err
	})
}

// UpsertActor seeds or refreshes an externally owned actor row.
func (s *Store) UpsertActor(ctx context.Context, a engine.Actor) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO actors(id, kind, frozen, dead, jailed, reputation, luck, rpc_endpoint)
			VALUES(?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind, frozen = excluded.frozen, dead = excluded.dead,
				jailed = excluded.jailed, reputation = excluded.reputation,
				luck = excluded.luck, rpc_endpoint = excluded.rpc_endpoint`,
			a.ID, a.Kind, boolInt(a.Frozen), boolInt(a.Dead), boolInt(a.Jailed),
			a.Reputation, a.Luck, a.RPCEndpoint)
		return err
	})
}

func (s *Store) UpsertAgentState(ctx context.Context, st engine.AgentState) error {
	if st.ActivityState == "" {
		st.ActivityState = engine.ActivityIdle
	}
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_states(actor_id, energy, hunger, health, social, fun, purpose,
				activity_state, activity_end_tick, job_id, work_segments, gamble_wins, gamble_losses)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(actor_id) DO UPDATE SET
				energy = excluded.energy, hunger = excluded.hunger, health = excluded.health,
				social = excluded.social, fun = excluded.fun, purpose = excluded.purpose,
				activity_state = excluded.activity_state,
				activity_end_tick = excluded.activity_end_tick,
				job_id = excluded.job_id, work_segments = excluded.work_segments,
				gamble_wins = excluded.gamble_wins, gamble_losses = excluded.gamble_losses`,
			st.ActorID, st.Energy, st.Hunger, st.Health, st.Social, st.Fun, st.Purpose,
			st.ActivityState, int64(st.ActivityEndTick), st.JobID, st.WorkSegments,
			st.GambleWins, st.GambleLosses)
		return err
	})
}

// EventsForActor returns the audit events of one actor, oldest first.
func (s *Store) EventsForActor(ctx context.Context, actorID string) ([]engine.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, type, target_ids, tick, outcome, side_effects
		FROM events WHERE actor_id = ? ORDER BY tick ASC, id ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var (
			ev          engine.Event
			targets     string
			tick        int64
			sideEffects string
		)
		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.Type, &targets, &tick, &ev.Outcome, &sideEffects); err != nil {
			return nil, err
		}
		ev.Tick = uint64(tick)
		if targets != "" {
			_ = json.Unmarshal([]byte(targets), &ev.TargetIDs)
		}
		if sideEffects != "" {
			_ = json.Unmarshal([]byte(sideEffects), &ev.SideEffects)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
