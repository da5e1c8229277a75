// Package queue executes deferred external-ledger settlement jobs
// asynchronously from the tick loop. Jobs are durable rows; any number of
// workers (in any number of processes) may poll the same database, and
// correctness rests entirely on the store's atomic claim.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/store"
	"agentcity.ai/internal/tuning"
)

type Worker struct {
	id     string
	store  *store.Store
	ledger ledger.Client
	tune   tuning.Tuning
	log    *log.Logger

	// now is injectable so retry/backoff windows are testable.
	now func() time.Time
}

func NewWorker(id string, st *store.Store, lc ledger.Client, tune tuning.Tuning, logger *log.Logger) *Worker {
	return &Worker{
		id:     id,
		store:  st,
		ledger: lc,
		tune:   tune,
		log:    logger,
		now:    time.Now,
	}
}

// SetClock overrides the worker clock (tests).
func (w *Worker) SetClock(now func() time.Time) { w.now = now }

// Run polls on a fixed interval until the context ends. Each wakeup drains
// every due job so a burst does not wait one interval per job.
func (w *Worker) Run(ctx context.Context) error {
	interval := time.Duration(w.tune.QueuePollMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				claimed, err := w.ProcessOne(ctx)
				if err != nil {
					w.logf("process job: %v", err)
					break
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and fully resolves at most one job. The bool reports
// whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, w.id, w.now())
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}

	receipt, execErr := w.execute(ctx, job)
	if execErr != nil {
		return true, w.resolveFailure(ctx, job, execErr)
	}
	return true, w.resolveSuccess(ctx, job, receipt)
}

func (w *Worker) resolveSuccess(ctx context.Context, job *engine.OnchainJob, receipt ledger.Receipt) error {
	if err := w.store.ConfirmJob(ctx, job.ID, receipt.TxHash); err != nil {
		return fmt.Errorf("confirm job %s: %w", job.ID, err)
	}

	if job.RelatedTxID != "" {
		if err := w.store.BackfillTransactionHash(ctx, job.RelatedTxID, receipt.TxHash); err != nil {
			return fmt.Errorf("backfill tx %s: %w", job.RelatedTxID, err)
		}
	} else {
		from, to := payloadString(job.Payload, "from"), transferTarget(job)
		amount := payloadInt64(job.Payload, "amount")
		if err := w.store.InsertTransaction(ctx, "", from, to, amount,
			receipt.NetAmount, receipt.PlatformFee, receipt.CityFee,
			receipt.TxHash, job.JobType); err != nil {
			return fmt.Errorf("audit tx for job %s: %w", job.ID, err)
		}
	}

	if job.RelatedIntentID != "" {
		if err := w.store.MarkIntentStatus(ctx, job.RelatedIntentID, engine.IntentExecuted, "", ""); err != nil {
			return fmt.Errorf("resolve intent %s: %w", job.RelatedIntentID, err)
		}
	}

	w.refreshWalletMirrors(ctx, job)
	w.logf("job %s (%s) confirmed %s", job.ID, job.JobType, receipt.TxHash)
	return nil
}

func (w *Worker) resolveFailure(ctx context.Context, job *engine.OnchainJob, execErr error) error {
	retries := job.RetryCount + 1
	maxRetries := w.tune.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	if retries < maxRetries {
		backoff := time.Duration(w.tune.RetryBackoffSec) * time.Second
		if backoff <= 0 {
			backoff = 5 * time.Second
		}
		next := w.now().Add(backoff * time.Duration(retries))
		if err := w.store.RequeueJob(ctx, job.ID, retries, next, execErr.Error()); err != nil {
			return fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		w.logf("job %s (%s) attempt %d failed, retrying at %s: %v",
			job.ID, job.JobType, retries, next.UTC().Format(time.RFC3339), execErr)
		return nil
	}

	// Retry budget spent: dead-letter is terminal, no automatic recovery.
	if err := w.store.DeadletterJob(ctx, job.ID, retries, execErr.Error()); err != nil {
		return fmt.Errorf("deadletter job %s: %w", job.ID, err)
	}
	job.RetryCount = retries
	if err := w.store.InsertOnchainFailure(ctx, *job, execErr.Error()); err != nil {
		return fmt.Errorf("failure record for job %s: %w", job.ID, err)
	}
	if job.RelatedIntentID != "" {
		reason := fmt.Sprintf("Settlement dead-lettered after %d attempts: %v", retries, execErr)
		if err := w.store.MarkIntentStatus(ctx, job.RelatedIntentID, engine.IntentBlocked,
			engine.CodeDeadletter, reason); err != nil {
			return fmt.Errorf("block intent %s: %w", job.RelatedIntentID, err)
		}
	}
	w.logf("job %s (%s) dead-lettered after %d attempts: %v", job.ID, job.JobType, retries, execErr)
	return nil
}

// refreshWalletMirrors re-reads the settled accounts from the ledger.
// Best effort: mirror drift self-corrects on the next spend refresh.
func (w *Worker) refreshWalletMirrors(ctx context.Context, job *engine.OnchainJob) {
	for _, account := range []string{payloadString(job.Payload, "from"), payloadString(job.Payload, "to")} {
		if account == "" {
			continue
		}
		bal, err := w.ledger.BalanceOf(ctx, account)
		if err != nil {
			w.logf("balance refresh %s: %v", account, err)
			continue
		}
		if err := w.store.SetWalletBalance(ctx, account, bal); err != nil {
			w.logf("persist balance %s: %v", account, err)
		}
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
