package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/ledger"
)

var transferParams = engine.MustCompileParamsSchema(TypeTransfer, `{
	"type": "object",
	"properties": {
		"to":      {"type": "string", "minLength": 1},
		"address": {"type": "string", "minLength": 1},
		"amount":  {"type": "integer", "minimum": 1},
		"memo":    {"type": "string"}
	},
	"required": ["amount"],
	"anyOf": [
		{"required": ["to"]},
		{"required": ["address"]}
	]
}`)

// handleTransfer moves sbyte to another actor or a raw address. In queued
// mode it enqueues an on-chain job and leaves the intent open; inline mode
// settles eagerly and degrades to a soft failure when the ledger call
// fails, so the intent still resolves this tick.
func handleTransfer(ctx context.Context, deps *engine.Deps, in engine.Invocation) (engine.Result, error) {
	if in.Wallet == nil {
		return engine.BlockedResult(in.Intent.ActorID, "TRANSFER_BLOCKED",
			engine.CodeValidation, "No wallet"), nil
	}

	amount := paramInt64(in.Intent.Params, "amount")
	if amount > in.Wallet.BalanceSbyte {
		return engine.BlockedResult(in.Intent.ActorID, "TRANSFER_BLOCKED",
			engine.CodeNoFunds, "Insufficient funds"), nil
	}

	to := paramString(in.Intent.Params, "to")
	address := paramString(in.Intent.Params, "address")

	if deps.Mode == engine.SettlementQueued {
		return queueTransfer(deps, in, amount, to, address), nil
	}
	return inlineTransfer(ctx, deps, in, amount, to, address), nil
}

func queueTransfer(deps *engine.Deps, in engine.Invocation, amount int64, to, address string) engine.Result {
	jobType := engine.JobTransferAgent
	payload := map[string]any{
		"from":         in.Intent.ActorID,
		"amount":       amount,
		"city_fee_bps": deps.Tune.CityFeeBps,
	}
	if address != "" {
		jobType = engine.JobTransferAddress
		payload["address"] = address
	} else {
		payload["to"] = to
	}

	update, jobID := engine.CreateOnchainJobUpdate(engine.OnchainJobArgs{
		JobType:         jobType,
		Payload:         payload,
		ActorID:         in.Intent.ActorID,
		RelatedIntentID: in.Intent.ID,
	})

	return engine.Result{
		Status:  engine.IntentQueued,
		Updates: []engine.StateUpdate{update},
		Events: []engine.Event{{
			ActorID:   in.Intent.ActorID,
			Type:      "TRANSFER_QUEUED",
			TargetIDs: targetList(to),
			Outcome:   engine.OutcomeSuccess,
			SideEffects: map[string]any{
				"job_id": jobID,
				"amount": amount,
			},
		}},
	}
}

func inlineTransfer(ctx context.Context, deps *engine.Deps, in engine.Invocation, amount int64, to, address string) engine.Result {
	dest := to
	if dest == "" {
		dest = address
	}

	receipt, err := deps.Ledger.Transfer(ctx, ledger.TransferReq{
		From:           in.Intent.ActorID,
		To:             dest,
		Amount:         amount,
		CityFeeBps:     deps.Tune.CityFeeBps,
		IdempotencyKey: "intent:" + in.Intent.ID,
	})
	if err != nil {
		// Soft failure: the intent resolves, the event carries the reason.
		return engine.Result{
			Status: engine.IntentExecuted,
			Events: []engine.Event{{
				ActorID:   in.Intent.ActorID,
				Type:      "TRANSFER",
				TargetIDs: targetList(to),
				Outcome:   engine.OutcomeFail,
				SideEffects: map[string]any{
					"paymentFailedReason": err.Error(),
					"amount":              amount,
				},
			}},
		}
	}

	updates := []engine.StateUpdate{{
		Table: engine.TableWallets,
		Op:    engine.OpUpdate,
		Where: map[string]any{"actor_id": in.Intent.ActorID},
		Data:  map[string]any{"balance_sbyte": engine.Delta(-amount)},
	}}
	if to != "" {
		updates = append(updates,
			engine.StateUpdate{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": to},
				Data:  map[string]any{"balance_sbyte": engine.Delta(receipt.NetAmount)},
			},
			engine.StateUpdate{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": ledger.AccountPlatformVault},
				Data:  map[string]any{"balance_sbyte": engine.Delta(receipt.PlatformFee)},
			},
			engine.StateUpdate{
				Table: engine.TableWallets,
				Op:    engine.OpUpdate,
				Where: map[string]any{"actor_id": ledger.AccountCityVault},
				Data:  map[string]any{"balance_sbyte": engine.Delta(receipt.CityFee)},
			},
		)
	}
	updates = append(updates, engine.StateUpdate{
		Table: engine.TableTransactions,
		Op:    engine.OpCreate,
		Data: map[string]any{
			"id":           uuid.NewString(),
			"from_actor":   in.Intent.ActorID,
			"to_actor":     dest,
			"amount":       amount,
			"net_amount":   receipt.NetAmount,
			"platform_fee": receipt.PlatformFee,
			"city_fee":     receipt.CityFee,
			"tx_hash":      receipt.TxHash,
			"kind":         "TRANSFER_INLINE",
			"created_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	})

	return engine.Result{
		Status:  engine.IntentExecuted,
		Updates: updates,
		Events: []engine.Event{{
			ActorID:   in.Intent.ActorID,
			Type:      "TRANSFER",
			TargetIDs: targetList(to),
			Outcome:   engine.OutcomeSuccess,
			SideEffects: map[string]any{
				"amount":  amount,
				"net":     receipt.NetAmount,
				"tx_hash": receipt.TxHash,
			},
		}},
	}
}

func targetList(to string) []string {
	if to == "" {
		return nil
	}
	return []string{to}
}
