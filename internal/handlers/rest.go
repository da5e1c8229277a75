package handlers

import (
	"context"

	"agentcity.ai/internal/engine"
)

// handleRest puts the actor into a RESTING segment. While resting the busy
// gate blocks nearly everything, so this is effectively a commitment until
// the end tick.
func handleRest(_ context.Context, deps *engine.Deps, in engine.Invocation) (engine.Result, error) {
	if in.State == nil {
		return engine.BlockedResult(in.Intent.ActorID, "REST_BLOCKED",
			engine.CodeValidation, "No agent state"), nil
	}

	endTick := in.Tick + deps.Tune.RestDurationTicks
	return engine.Result{
		Status: engine.IntentExecuted,
		Updates: []engine.StateUpdate{{
			Table: engine.TableAgentStates,
			Op:    engine.OpUpdate,
			Where: map[string]any{"actor_id": in.Intent.ActorID},
			Data: map[string]any{
				"activity_state":    engine.ActivityResting,
				"activity_end_tick": int64(endTick),
			},
		}},
		Events: []engine.Event{{
			ActorID: in.Intent.ActorID,
			Type:    "REST_STARTED",
			Outcome: engine.OutcomeSuccess,
			SideEffects: map[string]any{
				"end_tick": endTick,
			},
		}},
	}, nil
}
