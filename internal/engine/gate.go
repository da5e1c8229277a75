package engine

import "fmt"

// Urgent-need gauges at or below this level unlock their corrective intents
// even while busy. Fixed by contract, not tunable.
const urgentNeedThreshold = 40

// Intent types compatible with any non-IDLE activity.
var compatibleWhileBusy = map[string]bool{
	"SPEAK":        true,
	"EAT":          true,
	"CHECK_STATUS": true,
}

// RESTING keeps only the bare minimum.
var compatibleWhileResting = map[string]bool{
	"EAT": true,
}

// Corrective intents unlocked per urgent gauge.
var urgentCorrective = map[string]string{
	"EAT":  "hunger",
	"REST": "energy",
	"HEAL": "health",
}

// GateDecision is the busy gate's verdict. The gate never emits
// StateUpdates; ResetActivity tells the dispatcher to force the actor back
// to IDLE before invoking the handler (expired window or privileged
// ownerOverride).
type GateDecision struct {
	Allow         bool
	ResetActivity bool
	Reason        string
}

// EvaluateGate decides whether an actor may start an intent at tick given
// its activity state. state may be nil (system actors are never busy).
func EvaluateGate(state *AgentState, tick uint64, intentType string, params Params) GateDecision {
	if state == nil || state.ActivityState == "" || state.ActivityState == ActivityIdle {
		return GateDecision{Allow: true}
	}
	if state.ActivityEndTick == 0 {
		// No end tick means the activity tag is stale; treat as idle.
		return GateDecision{Allow: true}
	}
	if tick >= state.ActivityEndTick {
		// Activity window is over; the stale tag resets on this dispatch.
		return GateDecision{Allow: true, ResetActivity: true}
	}

	if ownerOverride(params) {
		return GateDecision{Allow: true, ResetActivity: true}
	}

	allow := compatibleWhileBusy
	if state.ActivityState == ActivityResting {
		allow = compatibleWhileResting
	}
	if allow[intentType] {
		return GateDecision{Allow: true}
	}
	if urgentUnlocked(state, intentType) {
		return GateDecision{Allow: true}
	}

	return GateDecision{
		Reason: fmt.Sprintf("Busy (%s) until tick %d", state.ActivityState, state.ActivityEndTick),
	}
}

func ownerOverride(params Params) bool {
	v, ok := params["ownerOverride"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func urgentUnlocked(state *AgentState, intentType string) bool {
	gauge, ok := urgentCorrective[intentType]
	if !ok {
		return false
	}
	switch gauge {
	case "hunger":
		return state.Hunger <= urgentNeedThreshold
	case "energy":
		return state.Energy <= urgentNeedThreshold
	case "health":
		return state.Health <= urgentNeedThreshold
	}
	return false
}
