package engine

// Machine-readable block codes persisted alongside the human-readable reason.
const (
	CodeValidation   = "E_VALIDATION"
	CodeNotFound     = "E_NOT_FOUND"
	CodeFrozen       = "E_FROZEN"
	CodeDead         = "E_DEAD"
	CodeJailed       = "E_JAILED"
	CodeBusy         = "E_BUSY"
	CodeNoFunds      = "E_NO_FUNDS"
	CodeNoResource   = "E_NO_RESOURCE"
	CodeNoHandler    = "E_NO_HANDLER"
	CodeOnePerTick   = "E_ONE_PER_TICK"
	CodeHandlerFault = "E_HANDLER_FAULT"
	CodeDeadletter   = "E_DEADLETTER"
	CodeInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeValidation:   {},
	CodeNotFound:     {},
	CodeFrozen:       {},
	CodeDead:         {},
	CodeJailed:       {},
	CodeBusy:         {},
	CodeNoFunds:      {},
	CodeNoResource:   {},
	CodeNoHandler:    {},
	CodeOnePerTick:   {},
	CodeHandlerFault: {},
	CodeDeadletter:   {},
	CodeInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
