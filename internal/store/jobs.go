package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentcity.ai/internal/engine"
)

// ClaimNextJob atomically flips one due queued job to processing and returns
// it. The claim is a compare-and-swap on status, so concurrent workers never
// double-claim: the loser's UPDATE matches zero rows and it moves on to the
// next candidate. Jobs whose actor carries a non-default RPC endpoint win
// the pick, then oldest-created.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*engine.OnchainJob, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT j.id
			FROM onchain_jobs j
			LEFT JOIN actors a ON a.id = j.actor_id
			WHERE j.status = 'queued' AND j.next_attempt_at <= ?
			ORDER BY CASE WHEN COALESCE(a.rpc_endpoint, '') <> '' THEN 0 ELSE 1 END,
				j.created_at ASC, j.id ASC
			LIMIT 1`, now.Unix()).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE onchain_jobs
			SET status = 'processing', locked_by = ?, locked_at = ?
			WHERE id = ? AND status = 'queued'`,
			workerID, now.UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return s.GetJob(ctx, id)
		}
		// Lost the race for this row; try the next candidate.
	}
	return nil, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*engine.OnchainJob, error) {
	var (
		j           engine.OnchainJob
		payload     string
		nextAttempt int64
		createdAt   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_type, status, payload, actor_id, related_intent_id,
		       related_tx_id, retry_count, next_attempt_at, last_error, created_at
		FROM onchain_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.JobType, &j.Status, &payload, &j.ActorID, &j.RelatedIntentID,
			&j.RelatedTxID, &j.RetryCount, &nextAttempt, &j.LastError, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
			return nil, fmt.Errorf("job %s payload: %w", id, err)
		}
	}
	if nextAttempt > 0 {
		j.NextAttemptAt = time.Unix(nextAttempt, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		j.CreatedAt = t
	}
	return &j, nil
}

// EnqueueJob inserts a queued job directly (outside a handler commit); used
// by tests and operational backfills. Handlers go through
// engine.CreateOnchainJobUpdate instead.
func (s *Store) EnqueueJob(ctx context.Context, j engine.OnchainJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}
	if j.Status == "" {
		j.Status = engine.JobQueued
	}
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var nextAttempt int64
	if !j.NextAttemptAt.IsZero() {
		nextAttempt = j.NextAttemptAt.Unix()
	}
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO onchain_jobs(id, job_type, status, payload, actor_id,
				related_intent_id, related_tx_id, retry_count, next_attempt_at,
				last_error, created_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			j.ID, j.JobType, string(j.Status), string(payload), j.ActorID,
			j.RelatedIntentID, j.RelatedTxID, j.RetryCount, nextAttempt,
			j.LastError, createdAt.Format(time.RFC3339Nano))
		return err
	})
}

// ConfirmJob marks a processing job settled with its transaction hash.
func (s *Store) ConfirmJob(ctx context.Context, jobID, txHash string) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE onchain_jobs
			SET status = 'confirmed', tx_hash = ?, last_error = '', locked_by = '', locked_at = ''
			WHERE id = ?`, txHash, jobID)
		return err
	})
}

// RequeueJob schedules another attempt after a transient failure.
func (s *Store) RequeueJob(ctx context.Context, jobID string, retryCount int, nextAttempt time.Time, lastErr string) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE onchain_jobs
			SET status = 'queued', retry_count = ?, next_attempt_at = ?, last_error = ?,
			    locked_by = '', locked_at = ''
			WHERE id = ?`, retryCount, nextAttempt.Unix(), lastErr, jobID)
		return err
	})
}

// DeadletterJob parks a job terminally after its retry budget is exhausted.
func (s *Store) DeadletterJob(ctx context.Context, jobID string, retryCount int, lastErr string) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE onchain_jobs
			SET status = 'deadletter', retry_count = ?, last_error = ?,
			    locked_by = '', locked_at = ''
			WHERE id = ?`, retryCount, lastErr, jobID)
		return err
	})
}

// InsertOnchainFailure persists the terminal failure record surfaced by the
// read API.
func (s *Store) InsertOnchainFailure(ctx context.Context, job engine.OnchainJob, reason string) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO onchain_failures(id, job_id, job_type, actor_id, reason, retry_count, created_at)
			VALUES(?,?,?,?,?,?,?)`,
			uuid.NewString(), job.ID, job.JobType, job.ActorID, reason,
			job.RetryCount, nowStamp())
		return err
	})
}

// StepReceipt is the settled result of one sub-transfer, persisted so a
// retried job replays the full receipt, not just the hash.
type StepReceipt struct {
	TxHash      string
	NetAmount   int64
	PlatformFee int64
	CityFee     int64
}

// RecordStep remembers a settled sub-transfer so a retried job skips it.
func (s *Store) RecordStep(ctx context.Context, jobID string, step int, r StepReceipt) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO onchain_steps(job_id, step, tx_hash, net_amount, platform_fee, city_fee)
			VALUES(?,?,?,?,?,?)`,
			jobID, step, r.TxHash, r.NetAmount, r.PlatformFee, r.CityFee)
		return err
	})
}

// CompletedSteps returns the already-settled sub-transfers of a job.
func (s *Store) CompletedSteps(ctx context.Context, jobID string) (map[int]StepReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, tx_hash, net_amount, platform_fee, city_fee
		FROM onchain_steps WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]StepReceipt{}
	for rows.Next() {
		var (
			step int
			r    StepReceipt
		)
		if err := rows.Scan(&step, &r.TxHash, &r.NetAmount, &r.PlatformFee, &r.CityFee); err != nil {
			return nil, err
		}
		out[step] = r
	}
	return out, rows.Err()
}

// InsertTransaction writes the audit ledger row for a settled transfer.
func (s *Store) InsertTransaction(ctx context.Context, id, from, to string, amount, net, platformFee, cityFee int64, txHash, kind string) error {
	if id == "" {
		id = uuid.NewString()
	}
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO transactions(id, from_actor, to_actor, amount, net_amount,
				platform_fee, city_fee, tx_hash, kind, created_at)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			id, from, to, amount, net, platformFee, cityFee, txHash, kind, nowStamp())
		return err
	})
}

// TransactionsForActor returns the audit rows where the actor is the payer,
// oldest first.
func (s *Store) TransactionsForActor(ctx context.Context, actorID string) ([]engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_actor, to_actor, amount, net_amount, platform_fee, city_fee, tx_hash, kind
		FROM transactions WHERE from_actor = ?
		ORDER BY created_at ASC, id ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Transaction
	for rows.Next() {
		var t engine.Transaction
		if err := rows.Scan(&t.ID, &t.FromActor, &t.ToActor, &t.Amount, &t.NetAmount,
			&t.PlatformFee, &t.CityFee, &t.TxHash, &t.Kind); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BackfillTransactionHash stamps the settled hash onto an off-chain
// transaction row created before settlement.
func (s *Store) BackfillTransactionHash(ctx context.Context, txID, txHash string) error {
	return retryOp(defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE transactions SET tx_hash = ? WHERE id = ?`, txHash, txID)
		return err
	})
}
