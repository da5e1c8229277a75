package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Intent types that move funds force a ledger balance refresh before the
// handler sees the wallet snapshot.
var spendIntents = map[string]bool{
	"TRANSFER": true,
	"GAMBLE":   true,
	"BUY_ITEM": true,
	"TIP":      true,
}

// Registration binds an intent type to its handler and an optional params
// schema checked before dispatch.
type Registration struct {
	Handler Handler
	Params  *jsonschema.Schema
}

// Dispatcher orchestrates one simulation tick end-to-end: select, group,
// gate, dispatch, commit, notify.
type Dispatcher struct {
	deps      *Deps
	registry  map[string]Registration
	worldSeed int64
}

func NewDispatcher(deps *Deps, registry map[string]Registration, worldSeed int64) *Dispatcher {
	return &Dispatcher{deps: deps, registry: registry, worldSeed: worldSeed}
}

type TickSummary struct {
	Tick     uint64
	Executed int
	Queued   int
	Blocked  int
}

// Run drives RunTick on a fixed interval until the context ends. Ticks are
// processed synchronously; a slow backlog delays the next tick rather than
// overlapping it.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, startTick uint64) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := startTick
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RunTick(ctx, tick); err != nil {
				d.deps.logf("tick %d: %v", tick, err)
			}
			tick++
		}
	}
}

// RunTick processes every actionable intent scheduled at or before tick.
// Actor groups fail independently: an error in one group is logged and the
// rest of the tick proceeds.
func (d *Dispatcher) RunTick(ctx context.Context, tick uint64) (TickSummary, error) {
	sum := TickSummary{Tick: tick}

	intents, err := d.deps.Store.PendingIntents(ctx, tick)
	if err != nil {
		return sum, fmt.Errorf("select pending intents: %w", err)
	}
	if len(intents) == 0 {
		return sum, nil
	}

	// Group by actor, preserving the global priority order: the slice is
	// already priority desc, createdAt asc, so each group's head is that
	// actor's winning intent and groups run in the order their heads appear.
	order := make([]string, 0, len(intents))
	groups := make(map[string][]Intent)
	for _, it := range intents {
		if _, seen := groups[it.ActorID]; !seen {
			order = append(order, it.ActorID)
		}
		groups[it.ActorID] = append(groups[it.ActorID], it)
	}

	seed := TickSeed(d.worldSeed, tick)
	for _, actorID := range order {
		group := groups[actorID]
		top := group[0]

		status, reason := d.dispatchOne(ctx, top, tick, seed)
		switch status {
		case IntentExecuted:
			sum.Executed++
		case IntentQueued:
			sum.Queued++
		default:
			sum.Blocked++
		}
		d.notify(top, tick, status, reason)

		// Enforce the single-intent invariant post hoc so skipped intents
		// remain auditable.
		for _, skipped := range group[1:] {
			res := BlockedResult(actorID, "INTENT_SKIPPED", CodeOnePerTick, "Only one intent per tick")
			if err := d.commit(ctx, skipped, tick, res); err != nil {
				d.deps.logf("tick %d: block skipped intent %s: %v", tick, skipped.ID, err)
				d.park(ctx, skipped.ID, "Only one intent per tick")
				continue
			}
			sum.Blocked++
			d.notify(skipped, tick, IntentBlocked, "Only one intent per tick")
		}
	}
	return sum, nil
}

// dispatchOne runs steps 3-8 for a single actor's winning intent and returns
// the committed status plus the block reason, if any.
func (d *Dispatcher) dispatchOne(ctx context.Context, intent Intent, tick uint64, seed int64) (IntentStatus, string) {
	block := func(code, reason string) (IntentStatus, string) {
		res := BlockedResult(intent.ActorID, "INTENT_BLOCKED", code, reason)
		if err := d.commit(ctx, intent, tick, res); err != nil {
			d.deps.logf("tick %d: commit block for intent %s: %v", tick, intent.ID, err)
			d.park(ctx, intent.ID, reason)
		}
		return IntentBlocked, reason
	}

	actor, err := d.deps.Store.ActorSnapshot(ctx, intent.ActorID)
	if err != nil {
		return block(CodeInternal, fmt.Sprintf("Actor lookup failed: %v", err))
	}
	switch {
	case actor == nil:
		return block(CodeNotFound, "Actor not found")
	case actor.Frozen:
		return block(CodeFrozen, "Actor frozen")
	case actor.Dead:
		return block(CodeDead, "Actor dead")
	case actor.Jailed:
		return block(CodeJailed, "Actor jailed")
	}

	state, err := d.deps.Store.AgentStateSnapshot(ctx, intent.ActorID)
	if err != nil {
		return block(CodeInternal, fmt.Sprintf("State lookup failed: %v", err))
	}
	wallet, err := d.deps.Store.WalletSnapshot(ctx, intent.ActorID)
	if err != nil {
		return block(CodeInternal, fmt.Sprintf("Wallet lookup failed: %v", err))
	}

	gate := EvaluateGate(state, tick, intent.Type, intent.Params)
	if !gate.Allow {
		return block(CodeBusy, gate.Reason)
	}

	var preUpdates []StateUpdate
	if gate.ResetActivity && state != nil {
		state.ActivityState = ActivityIdle
		state.ActivityEndTick = 0
		preUpdates = append(preUpdates, StateUpdate{
			Table: TableAgentStates,
			Op:    OpUpdate,
			Where: map[string]any{"actor_id": intent.ActorID},
			Data:  map[string]any{"activity_state": ActivityIdle, "activity_end_tick": 0},
		})
	}

	if spendIntents[intent.Type] && wallet != nil && d.deps.Ledger != nil {
		if bal, err := d.deps.Ledger.BalanceOf(ctx, intent.ActorID); err != nil {
			d.deps.logf("tick %d: balance refresh for %s: %v", tick, intent.ActorID, err)
		} else {
			if err := d.deps.Store.SetWalletBalance(ctx, intent.ActorID, bal); err != nil {
				d.deps.logf("tick %d: persist balance for %s: %v", tick, intent.ActorID, err)
			}
			wallet.BalanceSbyte = bal
		}
	}

	reg, ok := d.registry[intent.Type]
	if !ok || reg.Handler == nil {
		return block(CodeNoHandler, "No handler")
	}
	if err := ValidateParams(reg.Params, intent.Params); err != nil {
		return block(CodeValidation, capitalizeErr(err))
	}

	in := Invocation{
		Intent: intent,
		Actor:  *actor,
		State:  state,
		Wallet: wallet,
		Tick:   tick,
		Seed:   seed,
	}
	res, err := safeInvoke(ctx, reg.Handler, d.deps, in)
	if err != nil {
		return block(CodeHandlerFault, err.Error())
	}
	if res.Status == "" {
		res.Status = IntentExecuted
	}
	res.Updates = append(preUpdates, res.Updates...)

	if err := d.commit(ctx, intent, tick, res); err != nil {
		d.deps.logf("tick %d: commit intent %s: %v", tick, intent.ID, err)
		reason := fmt.Sprintf("Commit failed: %v", err)
		d.park(ctx, intent.ID, reason)
		return IntentBlocked, reason
	}
	return res.Status, blockReasonOf(res)
}

// park force-marks an intent blocked outside the transactional commit. A
// failed commit must still move the intent to a terminal status, or it
// would stay pending and be re-dispatched every tick.
func (d *Dispatcher) park(ctx context.Context, intentID, reason string) {
	if err := d.deps.Store.MarkIntentStatus(ctx, intentID, IntentBlocked, CodeInternal, reason); err != nil {
		d.deps.logf("park intent %s: %v", intentID, err)
	}
}

func (d *Dispatcher) commit(ctx context.Context, intent Intent, tick uint64, res Result) error {
	return d.deps.Store.Commit(ctx, CommitRequest{
		IntentID: intent.ID,
		Status:   res.Status,
		Tick:     tick,
		Updates:  res.Updates,
		Events:   res.Events,
	})
}

// notify fires the best-effort analytics record. Never transactional.
func (d *Dispatcher) notify(intent Intent, tick uint64, status IntentStatus, reason string) {
	if d.deps.Analytics == nil {
		return
	}
	outcome := OutcomeSuccess
	if status == IntentBlocked {
		outcome = OutcomeBlocked
	}
	d.deps.Analytics.RecordIntentOutcome(IntentOutcome{
		ActorID:    intent.ActorID,
		Tick:       tick,
		IntentType: intent.Type,
		Outcome:    outcome,
		Reason:     reason,
	})
}

func safeInvoke(ctx context.Context, h Handler, deps *Deps, in Invocation) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, deps, in)
}

func blockReasonOf(res Result) string {
	if res.Status != IntentBlocked || len(res.Events) == 0 {
		return ""
	}
	se := res.Events[0].SideEffects
	if se == nil {
		return ""
	}
	if r, ok := se["reason"].(string); ok {
		return r
	}
	if r, ok := se["blockReason"].(string); ok {
		return r
	}
	return ""
}

func capitalizeErr(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	if msg[0] >= 'a' && msg[0] <= 'z' {
		msg = string(msg[0]-'a'+'A') + msg[1:]
	}
	return msg
}
