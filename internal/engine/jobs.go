package engine

import (
	"time"

	"github.com/google/uuid"
)

// OnchainJobArgs describes a deferred settlement a handler wants queued.
type OnchainJobArgs struct {
	JobType         string
	Payload         map[string]any
	ActorID         string
	RelatedIntentID string
	RelatedTxID     string
}

// CreateOnchainJobUpdate builds the StateUpdate that enqueues an on-chain
// job, so handlers can defer settlement without depending on queue
// internals. The returned id lets the handler reference the job in events.
func CreateOnchainJobUpdate(args OnchainJobArgs) (StateUpdate, string) {
	id := uuid.NewString()
	u := StateUpdate{
		Table: TableOnchainJobs,
		Op:    OpCreate,
		Data: map[string]any{
			"id":                id,
			"job_type":          args.JobType,
			"status":            string(JobQueued),
			"payload":           args.Payload,
			"actor_id":          args.ActorID,
			"related_intent_id": args.RelatedIntentID,
			"related_tx_id":     args.RelatedTxID,
			"retry_count":       0,
			"next_attempt_at":   0,
			"last_error":        "",
			"created_at":        time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	return u, id
}
