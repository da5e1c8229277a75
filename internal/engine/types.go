package engine

import "time"

// IntentStatus is the lifecycle tag on an intent row. Intents are never
// deleted; terminal rows stay behind as the audit trail.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentExecuted IntentStatus = "executed"
	IntentBlocked  IntentStatus = "blocked"
	IntentQueued   IntentStatus = "queued"
)

// Intent sources. Suggestion intents come from the privileged suggestion
// channel and never self-execute.
const (
	SourceAgent      = "agent"
	SourceSuggestion = "suggestion"
)

// Params is the free-form structured payload on an intent. Extra keys pass
// through untouched when the engine stamps a blockReason into it.
type Params map[string]any

type Intent struct {
	ID        string       `json:"id"`
	ActorID   string       `json:"actor_id"`
	Type      string       `json:"type"`
	Params    Params       `json:"params,omitempty"`
	Priority  float64      `json:"priority"`
	Tick      uint64       `json:"tick"`
	Status    IntentStatus `json:"status"`
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
}

// Actor kinds.
const (
	ActorKindAgent  = "agent"
	ActorKindSystem = "system"
)

// Actor is owned externally; the engine reads a snapshot per dispatch and
// only ever mutates reputation/frozen through handler StateUpdates.
type Actor struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Frozen      bool    `json:"frozen"`
	Dead        bool    `json:"dead"`
	Jailed      bool    `json:"jailed"`
	Reputation  int     `json:"reputation"`
	Luck        float64 `json:"luck"`
	RPCEndpoint string  `json:"rpc_endpoint,omitempty"`
}

// Activity tags. At most one non-IDLE activity is active at a time,
// governed by a single ActivityEndTick.
const (
	ActivityIdle      = "IDLE"
	ActivityWorking   = "WORKING"
	ActivityResting   = "RESTING"
	ActivityTraveling = "TRAVELING"
)

// AgentState holds the mutable gauges of an agent actor. Gauges are bounded
// to [0,100]; the commit layer clamps delta writes to keep them in range.
type AgentState struct {
	ActorID         string `json:"actor_id"`
	Energy          int    `json:"energy"`
	Hunger          int    `json:"hunger"`
	Health          int    `json:"health"`
	Social          int    `json:"social"`
	Fun             int    `json:"fun"`
	Purpose         int    `json:"purpose"`
	ActivityState   string `json:"activity_state"`
	ActivityEndTick uint64 `json:"activity_end_tick"`
	JobID           string `json:"job_id,omitempty"`
	WorkSegments    int    `json:"work_segments"`
	GambleWins      int    `json:"gamble_wins"`
	GambleLosses    int    `json:"gamble_losses"`
}

// Wallet mirrors the external ledger balance for an actor. Handlers own the
// insufficient-funds pre-check; the engine does not enforce non-negativity.
type Wallet struct {
	ActorID      string `json:"actor_id"`
	BalanceSbyte int64  `json:"balance_sbyte"`
}

// Tables addressable by StateUpdate.
const (
	TableActors       = "actors"
	TableAgentStates  = "agent_states"
	TableWallets      = "wallets"
	TableIntents      = "intents"
	TableTransactions = "transactions"
	TableOnchainJobs  = "onchain_jobs"
)

// StateUpdate operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Delta marks a numeric write as a relative increment. The commit layer
// renders it as `col = col + ?` so shared rows (city vault, business
// treasury) never go through read-modify-write.
type Delta int64

// StateUpdate is the only mutation descriptor the commit layer interprets.
// Where and Data keys are column names of the addressed table.
type StateUpdate struct {
	Table string         `json:"table"`
	Op    string         `json:"op"`
	Where map[string]any `json:"where,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Event outcomes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeBlocked Outcome = "blocked"
)

// Event is an append-only audit/notification record. Tick is stamped at
// commit time; whatever the handler set is overwritten.
type Event struct {
	ID          string         `json:"id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Type        string         `json:"type"`
	TargetIDs   []string       `json:"target_ids,omitempty"`
	Tick        uint64         `json:"tick"`
	Outcome     Outcome        `json:"outcome"`
	SideEffects map[string]any `json:"side_effects,omitempty"`
}

// OnchainJob statuses. Confirmed and deadletter are terminal.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobConfirmed  JobStatus = "confirmed"
	JobDeadletter JobStatus = "deadletter"
)

// Settlement job types.
const (
	JobTransferAgent    = "TRANSFER_AGENT"
	JobTransferAddress  = "TRANSFER_ADDRESS"
	JobTransferBusiness = "TRANSFER_BUSINESS"
	JobTransferRaw      = "TRANSFER_RAW"
)

// OnchainJob is a durable unit of deferred external-ledger settlement work.
// Created by handlers, mutated only by the queue worker.
type OnchainJob struct {
	ID              string         `json:"id"`
	JobType         string         `json:"job_type"`
	Status          JobStatus      `json:"status"`
	Payload         map[string]any `json:"payload,omitempty"`
	ActorID         string         `json:"actor_id"`
	RelatedIntentID string         `json:"related_intent_id,omitempty"`
	RelatedTxID     string         `json:"related_tx_id,omitempty"`
	RetryCount      int            `json:"retry_count"`
	NextAttemptAt   time.Time      `json:"next_attempt_at"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Transaction is the audit row for a settled (or still-settling) transfer.
type Transaction struct {
	ID          string `json:"id"`
	FromActor   string `json:"from_actor"`
	ToActor     string `json:"to_actor"`
	Amount      int64  `json:"amount"`
	NetAmount   int64  `json:"net_amount"`
	PlatformFee int64  `json:"platform_fee"`
	CityFee     int64  `json:"city_fee"`
	TxHash      string `json:"tx_hash"`
	Kind        string `json:"kind"`
}

// Settlement modes for handlers that move funds.
const (
	SettlementInline = "inline"
	SettlementQueued = "queued"
)
