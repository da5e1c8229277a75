package handlers

import (
	"context"

	"agentcity.ai/internal/engine"
)

// handleEat restores hunger. Allowed while busy (and unlocked by the urgent
// hunger override), so it deliberately leaves the activity state alone.
func handleEat(_ context.Context, deps *engine.Deps, in engine.Invocation) (engine.Result, error) {
	if in.State == nil {
		return engine.BlockedResult(in.Intent.ActorID, "EAT_BLOCKED",
			engine.CodeValidation, "No agent state"), nil
	}

	restore := deps.Tune.EatHungerRestore
	return engine.Result{
		Status: engine.IntentExecuted,
		Updates: []engine.StateUpdate{{
			Table: engine.TableAgentStates,
			Op:    engine.OpUpdate,
			Where: map[string]any{"actor_id": in.Intent.ActorID},
			Data: map[string]any{
				"hunger": engine.Delta(int64(restore)),
			},
		}},
		Events: []engine.Event{{
			ActorID: in.Intent.ActorID,
			Type:    "EAT",
			Outcome: engine.OutcomeSuccess,
			SideEffects: map[string]any{
				"restored": restore,
			},
		}},
	}, nil
}
