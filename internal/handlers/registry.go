// Package handlers holds the engine's reference intent handlers. Domain
// rule modules elsewhere implement the same contract; these cover the core
// loop (work, rest, eat) and the settlement paths (transfer, gamble) and
// double as the end-to-end test bed.
package handlers

import "agentcity.ai/internal/engine"

// Intent types.
const (
	TypeWork     = "WORK"
	TypeRest     = "REST"
	TypeEat      = "EAT"
	TypeTransfer = "TRANSFER"
	TypeGamble   = "GAMBLE"
)

func Registry() map[string]engine.Registration {
	return map[string]engine.Registration{
		TypeWork:     {Handler: handleWork, Params: workParams},
		TypeRest:     {Handler: handleRest},
		TypeEat:      {Handler: handleEat},
		TypeTransfer: {Handler: handleTransfer, Params: transferParams},
		TypeGamble:   {Handler: handleGamble, Params: gambleParams},
	}
}

// paramInt tolerates the float64 numbers JSON round-trips produce.
func paramInt(p engine.Params, key string, def int) int {
	if p == nil {
		return def
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func paramInt64(p engine.Params, key string) int64 {
	return int64(paramInt(p, key, 0))
}

func paramString(p engine.Params, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}
