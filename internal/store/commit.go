package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"agentcity.ai/internal/engine"
)

// Commit applies a handler result atomically: every StateUpdate, every
// event (tick-stamped here, not by the handler) and the intent's status
// transition land in one transaction or not at all.
func (s *Store) Commit(ctx context.Context, req engine.CommitRequest) error {
	return retryOp(defaultRetry, func() error {
		return s.commitOnce(ctx, req)
	})
}

func (s *Store) commitOnce(ctx context.Context, req engine.CommitRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, u := range req.Updates {
		if err := applyUpdate(tx, u); err != nil {
			return fmt.Errorf("state update %d: %w", i, err)
		}
	}

	for _, ev := range req.Events {
		if err := insertEvent(tx, ev, req.Tick); err != nil {
			return fmt.Errorf("event %s: %w", ev.Type, err)
		}
	}

	if req.IntentID != "" {
		code, reason := deriveBlockReason(req.Events)
		if err := transitionIntent(tx, req.IntentID, req.Status, code, reason); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertEvent(tx *sql.Tx, ev engine.Event, tick uint64) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	targets := []byte("[]")
	if ev.TargetIDs != nil {
		b, err := json.Marshal(ev.TargetIDs)
		if err != nil {
			return err
		}
		targets = b
	}
	side := []byte("{}")
	if ev.SideEffects != nil {
		b, err := json.Marshal(ev.SideEffects)
		if err != nil {
			return err
		}
		side = b
	}
	_, err := tx.Exec(`
		INSERT INTO events(id, actor_id, type, target_ids, tick, outcome, side_effects)
		VALUES(?,?,?,?,?,?,?)`,
		id, ev.ActorID, ev.Type, string(targets), int64(tick), string(ev.Outcome), string(side))
	return err
}

// transitionIntent writes the status change and, for blocks, stamps the
// derived blockReason into params. Extra params keys pass through untouched.
func transitionIntent(tx *sql.Tx, intentID string, status engine.IntentStatus, code, reason string) error {
	if status != engine.IntentBlocked || (code == "" && reason == "") {
		res, err := tx.Exec(`UPDATE intents SET status = ? WHERE id = ?`,
			string(status), intentID)
		if err != nil {
			return err
		}
		return requireIntentRow(res, intentID)
	}

	var rawParams string
	if err := tx.QueryRow(`SELECT params FROM intents WHERE id = ?`, intentID).
		Scan(&rawParams); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("intent %s not found", intentID)
		}
		return err
	}
	params := map[string]any{}
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("intent %s params: %w", intentID, err)
		}
	}
	if params == nil {
		// A JSON null column unmarshals to a nil map.
		params = map[string]any{}
	}
	if reason != "" {
		params["blockReason"] = reason
	}
	if code != "" {
		params["blockCode"] = code
	}
	merged, err := json.Marshal(params)
	if err != nil {
		return err
	}

	res, err := tx.Exec(`UPDATE intents SET status = ?, params = ? WHERE id = ?`,
		string(engine.IntentBlocked), string(merged), intentID)
	if err != nil {
		return err
	}
	return requireIntentRow(res, intentID)
}

func requireIntentRow(res sql.Result, intentID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("intent %s not found", intentID)
	}
	return nil
}

// deriveBlockReason reads the reason off the first event's side effects,
// accepting either key the handlers use.
func deriveBlockReason(events []engine.Event) (code, reason string) {
	if len(events) == 0 {
		return "", ""
	}
	se := events[0].SideEffects
	if se == nil {
		return "", ""
	}
	if v, ok := se["reason"].(string); ok {
		reason = v
	} else if v, ok := se["blockReason"].(string); ok {
		reason = v
	}
	if v, ok := se["code"].(string); ok {
		code = v
	}
	return code, reason
}

// MarkIntentStatus transitions an intent outside a handler commit (the
// queue's confirm/dead-letter path). A non-empty reason is stamped into
// params the same way a dispatcher block is.
func (s *Store) MarkIntentStatus(ctx context.Context, intentID string, status engine.IntentStatus, code, reason string) error {
	return retryOp(defaultRetry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := transitionIntent(tx, intentID, status, code, reason); err != nil {
			return err
		}
		return tx.Commit()
	})
}
