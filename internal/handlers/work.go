package handlers

import (
	"context"
	"fmt"

	"agentcity.ai/internal/engine"
)

var workParams = engine.MustCompileParamsSchema(TypeWork, `{
	"type": "object",
	"properties": {
		"tier":  {"type": "integer", "minimum": 1, "maximum": 3},
		"jobId": {"type": "string"}
	}
}`)

// handleWork starts a work segment: the actor goes WORKING until
// tick + segment duration, pays the tier's energy cost up front and banks
// the segment.
func handleWork(_ context.Context, deps *engine.Deps, in engine.Invocation) (engine.Result, error) {
	if in.State == nil {
		return engine.BlockedResult(in.Intent.ActorID, "WORK_BLOCKED",
			engine.CodeValidation, "No agent state"), nil
	}

	tier := paramInt(in.Intent.Params, "tier", 1)
	cost := deps.Tune.WorkEnergyCost(tier)
	if in.State.Energy < cost {
		return engine.BlockedResult(in.Intent.ActorID, "WORK_BLOCKED",
			engine.CodeNoResource,
			fmt.Sprintf("Too exhausted to work (energy %d, need %d)", in.State.Energy, cost)), nil
	}

	endTick := in.Tick + deps.Tune.SegmentDurationTicks
	data := map[string]any{
		"activity_state":    engine.ActivityWorking,
		"activity_end_tick": int64(endTick),
		"energy":            engine.Delta(-int64(cost)),
		"work_segments":     engine.Delta(1),
	}
	if jobID := paramString(in.Intent.Params, "jobId"); jobID != "" {
		data["job_id"] = jobID
	}

	return engine.Result{
		Status: engine.IntentExecuted,
		Updates: []engine.StateUpdate{{
			Table: engine.TableAgentStates,
			Op:    engine.OpUpdate,
			Where: map[string]any{"actor_id": in.Intent.ActorID},
			Data:  data,
		}},
		Events: []engine.Event{{
			ActorID: in.Intent.ActorID,
			Type:    "WORK_COMPLETED",
			Outcome: engine.OutcomeSuccess,
			SideEffects: map[string]any{
				"tier":        tier,
				"energy_cost": cost,
				"end_tick":    endTick,
			},
		}},
	}, nil
}
