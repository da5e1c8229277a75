// Package ledger abstracts the external settlement network. The engine and
// the queue worker only see the Client interface; the concrete client is a
// websocket JSON-RPC connection, or the in-process simulator when running
// offline.
package ledger

import "context"

// TransferReq moves amount from one account to another. IdempotencyKey
// de-duplicates retried calls on the ledger side; callers derive it from the
// retryable unit (job id + step index), never the intent. FeeExempt marks a
// leg of an already-split settlement: the amount arrives whole instead of
// having the bps cut applied a second time.
type TransferReq struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
	CityFeeBps     int64  `json:"city_fee_bps"`
	FeeExempt      bool   `json:"fee_exempt,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Receipt is the settled result of a transfer.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	NetAmount   int64  `json:"net_amount"`
	PlatformFee int64  `json:"platform_fee"`
	CityFee     int64  `json:"city_fee"`
}

type Client interface {
	Transfer(ctx context.Context, req TransferReq) (Receipt, error)
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// Well-known shared accounts.
const (
	AccountCityVault     = "city_vault"
	AccountPlatformVault = "platform_vault"
)
