package engine

import (
	"context"
	"log"

	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/tuning"
)

// Invocation is the read-only view a handler gets of the world. State and
// Wallet are nil for actors that have no row (system actors).
type Invocation struct {
	Intent Intent
	Actor  Actor
	State  *AgentState
	Wallet *Wallet
	Tick   uint64
	Seed   int64
}

// Result is everything a handler is allowed to produce: descriptors, audit
// events and the intent's next status. Handlers never touch storage directly.
type Result struct {
	Updates []StateUpdate
	Events  []Event
	Status  IntentStatus
}

// Handler implements one intent type. A returned error (or a panic, which
// the dispatcher recovers) is a handler fault: the intent is blocked with
// the error text and the rest of the tick proceeds. The context covers any
// eager settlement call the handler makes.
type Handler func(ctx context.Context, deps *Deps, in Invocation) (Result, error)

// Store is the slice of persistence the dispatcher needs. Implemented by
// internal/store.
type Store interface {
	PendingIntents(ctx context.Context, tick uint64) ([]Intent, error)
	ActorSnapshot(ctx context.Context, actorID string) (*Actor, error)
	AgentStateSnapshot(ctx context.Context, actorID string) (*AgentState, error)
	WalletSnapshot(ctx context.Context, actorID string) (*Wallet, error)
	SetWalletBalance(ctx context.Context, actorID string, balance int64) error
	Commit(ctx context.Context, req CommitRequest) error
	MarkIntentStatus(ctx context.Context, intentID string, status IntentStatus, code, reason string) error
}

// CommitRequest is one atomic application of a handler (or dispatcher)
// result: all updates, all events and the status transition land together
// or not at all.
type CommitRequest struct {
	IntentID string
	Status   IntentStatus
	Tick     uint64
	Updates  []StateUpdate
	Events   []Event
}

// IntentOutcome is the best-effort record pushed to the analytics sink after
// each commit. It is never part of the transaction.
type IntentOutcome struct {
	ActorID    string  `json:"actor_id"`
	Tick       uint64  `json:"tick"`
	IntentType string  `json:"intent_type"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
}

// Sink receives intent outcomes. Implementations must not block the tick
// loop; dropping records under pressure is acceptable.
type Sink interface {
	RecordIntentOutcome(rec IntentOutcome)
}

// Deps carries every injected collaborator. No package-level singletons:
// tests run multiple isolated worlds in one process.
type Deps struct {
	Store     Store
	Ledger    ledger.Client
	Analytics Sink
	Tune      tuning.Tuning

	// Mode selects inline vs queued settlement for fund-moving handlers.
	Mode string

	Log *log.Logger
}

func (d *Deps) logf(format string, args ...any) {
	if d != nil && d.Log != nil {
		d.Log.Printf(format, args...)
	}
}

// BlockedResult builds the uniform shape for a dispatcher-side block: a
// single blocked event whose sideEffects carry the code and reason the
// commit layer stamps into the intent params.
func BlockedResult(actorID, eventType, code, reason string) Result {
	return Result{
		Status: IntentBlocked,
		Events: []Event{{
			ActorID: actorID,
			Type:    eventType,
			Outcome: OutcomeBlocked,
			SideEffects: map[string]any{
				"code":   code,
				"reason": reason,
			},
		}},
	}
}
