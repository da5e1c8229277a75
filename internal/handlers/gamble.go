package handlers

import (
	"context"

	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/ledger"
)

var gambleParams = engine.MustCompileParamsSchema(TypeGamble, `{
	"type": "object",
	"properties": {
		"stake": {"type": "integer", "minimum": 1}
	},
	"required": ["stake"]
}`)

const (
	gambleBaseWinProb = 0.45
	gambleMaxWinProb  = 0.60
)

// handleGamble resolves a wager against the deterministic draw. Lost stakes
// flow to the city vault; the vault row is shared across actors so both
// sides of the wager move through atomic deltas.
func handleGamble(_ context.Context, deps *engine.Deps, in engine.Invocation) (engine.Result, error) {
	if in.State == nil || in.Wallet == nil {
		return engine.BlockedResult(in.Intent.ActorID, "GAMBLE_BLOCKED",
			engine.CodeValidation, "No agent state or wallet"), nil
	}

	stake := paramInt64(in.Intent.Params, "stake")
	if stake > in.Wallet.BalanceSbyte {
		return engine.BlockedResult(in.Intent.ActorID, "GAMBLE_BLOCKED",
			engine.CodeNoFunds, "Insufficient funds"), nil
	}

	roll := engine.Draw(in.Seed, in.Actor.ID+"_gamble")
	winProb := gambleBaseWinProb + in.Actor.Luck*0.01
	if winProb > gambleMaxWinProb {
		winProb = gambleMaxWinProb
	}
	won := roll < winProb

	var (
		updates []engine.StateUpdate
		outcome engine.Outcome
	)
	if won {
		outcome = engine.OutcomeSuccess
		updates = []engine.StateUpdate{
			{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": in.Intent.ActorID},
				Data:  map[string]any{"balance_sbyte": engine.Delta(stake)},
			},
			{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": ledger.AccountCityVault},
				Data:  map[string]any{"balance_sbyte": engine.Delta(-stake)},
			},
			{
				Table: engine.TableAgentStates,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": in.Intent.ActorID},
				Data:  map[string]any{"gamble_wins": engine.Delta(1)},
			},
		}
	} else {
		outcome = engine.OutcomeFail
		updates = []engine.StateUpdate{
			{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": in.Intent.ActorID},
				Data:  map[string]any{"balance_sbyte": engine.Delta(-stake)},
			},
			{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": ledger.AccountCityVault},
				Data:  map[string]any{"balance_sbyte": engine.Delta(stake)},
			},
			{
				Table: engine.TableAgentStates,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": in.Intent.ActorID},
				Data:  map[string]any{"gamble_losses": engine.Delta(1)},
			},
		}
	}

	return engine.Result{
		Status:  engine.IntentExecuted,
		Updates: updates,
		Events: []engine.Event{{
			ActorID: in.Intent.ActorID,
			Type:    "GAMBLE_RESULT",
			Outcome: outcome,
			SideEffects: map[string]any{
				"roll":  roll,
				"stake": stake,
				"won":   won,
			},
		}},
	}, nil
}
