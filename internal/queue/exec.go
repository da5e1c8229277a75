package queue

import (
	"context"
	"fmt"

	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/store"
)

// step is one external call within a job. A job retries from the top after
// any failure, so every step carries an idempotency key derived from
// (jobID, index) and settled steps are recorded and skipped on replay.
// platformLeg/cityLeg mark pre-split fee legs so their amounts fold back
// into the job receipt.
type step struct {
	req         ledger.TransferReq
	platformLeg bool
	cityLeg     bool
}

// execute dispatches by job type and returns the job's settled receipt: the
// main transfer plus any pre-split fee legs folded in. Replayed steps
// contribute their recorded receipts, so a retried job reports the same
// totals as a clean run.
func (w *Worker) execute(ctx context.Context, job *engine.OnchainJob) (ledger.Receipt, error) {
	steps, err := w.planSteps(job)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if len(steps) == 0 {
		return ledger.Receipt{}, fmt.Errorf("job %s (%s): nothing to settle", job.ID, job.JobType)
	}

	done, err := w.store.CompletedSteps(ctx, job.ID)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("load settled steps: %w", err)
	}

	var main ledger.Receipt
	for i, st := range steps {
		settled, ok := done[i]
		if !ok {
			st.req.IdempotencyKey = fmt.Sprintf("%s:%d", job.ID, i)
			receipt, err := w.ledger.Transfer(ctx, st.req)
			if err != nil {
				return ledger.Receipt{}, fmt.Errorf("step %d (%s -> %s): %w", i, st.req.From, st.req.To, err)
			}
			settled = store.StepReceipt{
				TxHash:      receipt.TxHash,
				NetAmount:   receipt.NetAmount,
				PlatformFee: receipt.PlatformFee,
				CityFee:     receipt.CityFee,
			}
			if err := w.store.RecordStep(ctx, job.ID, i, settled); err != nil {
				return ledger.Receipt{}, fmt.Errorf("record step %d: %w", i, err)
			}
		}
		switch {
		case st.platformLeg:
			main.PlatformFee += settled.NetAmount
		case st.cityLeg:
			main.CityFee += settled.NetAmount
		case i == 0:
			main.TxHash = settled.TxHash
			main.NetAmount = settled.NetAmount
			main.PlatformFee += settled.PlatformFee
			main.CityFee += settled.CityFee
		}
	}
	return main, nil
}

// planSteps expands a job into its sequential transfers.
func (w *Worker) planSteps(job *engine.OnchainJob) ([]step, error) {
	from := payloadString(job.Payload, "from")
	amount := payloadInt64(job.Payload, "amount")
	if amount <= 0 {
		return nil, fmt.Errorf("job %s: non-positive amount %d", job.ID, amount)
	}

	cityFeeBps := payloadInt64(job.Payload, "city_fee_bps")
	if cityFeeBps == 0 {
		cityFeeBps = w.tune.CityFeeBps
	}

	switch job.JobType {
	case engine.JobTransferAgent:
		to := payloadString(job.Payload, "to")
		if from == "" || to == "" {
			return nil, fmt.Errorf("job %s: missing from/to", job.ID)
		}
		return []step{{req: ledger.TransferReq{From: from, To: to, Amount: amount, CityFeeBps: cityFeeBps}}}, nil

	case engine.JobTransferAddress:
		addr := payloadString(job.Payload, "address")
		if from == "" || addr == "" {
			return nil, fmt.Errorf("job %s: missing from/address", job.ID)
		}
		return []step{{req: ledger.TransferReq{From: from, To: addr, Amount: amount, CityFeeBps: cityFeeBps}}}, nil

	case engine.JobTransferBusiness:
		business := payloadString(job.Payload, "business_id")
		if from == "" || business == "" {
			return nil, fmt.Errorf("job %s: missing from/business_id", job.ID)
		}
		// Business settlements split the fees into explicit sequential
		// transfers so the treasury receives the exact gross share. Each leg
		// is fee-exempt or the ledger would take its cut twice.
		fees := ledger.CalculateFees(amount, cityFeeBps)
		steps := []step{
			{req: ledger.TransferReq{From: from, To: business, Amount: fees.NetAmount, FeeExempt: true}},
		}
		if fees.PlatformFee > 0 {
			steps = append(steps, step{req: ledger.TransferReq{From: from, To: ledger.AccountPlatformVault, Amount: fees.PlatformFee, FeeExempt: true}, platformLeg: true})
		}
		if fees.CityFee > 0 {
			steps = append(steps, step{req: ledger.TransferReq{From: from, To: ledger.AccountCityVault, Amount: fees.CityFee, FeeExempt: true}, cityLeg: true})
		}
		return steps, nil

	case engine.JobTransferRaw:
		to := payloadString(job.Payload, "to")
		if from == "" || to == "" {
			return nil, fmt.Errorf("job %s: missing from/to", job.ID)
		}
		// Raw token moves bypass the fee split entirely.
		return []step{{req: ledger.TransferReq{From: from, To: to, Amount: amount, FeeExempt: true}}}, nil

	default:
		return nil, fmt.Errorf("job %s: unknown job type %q", job.ID, job.JobType)
	}
}

func transferTarget(job *engine.OnchainJob) string {
	switch job.JobType {
	case engine.JobTransferAddress:
		return payloadString(job.Payload, "address")
	case engine.JobTransferBusiness:
		return payloadString(job.Payload, "business_id")
	default:
		return payloadString(job.Payload, "to")
	}
}

func payloadString(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// payloadInt64 tolerates the float64 numbers JSON round-trips produce.
func payloadInt64(p map[string]any, key string) int64 {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
