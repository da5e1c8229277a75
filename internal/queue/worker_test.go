package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/store"
	"agentcity.ai/internal/tuning"
)

type fixture struct {
	store  *store.Store
	sim    *ledger.Sim
	worker *Worker
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "city.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store: st,
		sim:   ledger.NewSim(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.worker = NewWorker("w-test", st, f.sim, tuning.Defaults(), nil)
	f.worker.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) enqueue(t *testing.T, job engine.OnchainJob) {
	t.Helper()
	if err := f.store.EnqueueJob(context.Background(), job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func (f *fixture) job(t *testing.T, id string) *engine.OnchainJob {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j == nil {
		t.Fatalf("job %s missing", id)
	}
	return j
}

func TestProcessOne_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.Credit("A1", 100)

	if err := f.store.InsertIntent(ctx, engine.Intent{
		ID: "i1", ActorID: "A1", Type: "TRANSFER", Tick: 1,
		Status: engine.IntentQueued, CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("InsertIntent: %v", err)
	}
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferAgent, ActorID: "A1",
		RelatedIntentID: "i1",
		Payload:         map[string]any{"from": "A1", "to": "A2", "amount": 50, "city_fee_bps": 100},
	})

	claimed, err := f.worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !claimed {
		t.Fatalf("no job claimed")
	}

	j := f.job(t, "j1")
	if j.Status != engine.JobConfirmed {
		t.Fatalf("job status = %s", j.Status)
	}
	it, err := f.store.GetIntent(ctx, "i1")
	if err != nil || it == nil {
		t.Fatalf("intent: %v", err)
	}
	if it.Status != engine.IntentExecuted {
		t.Fatalf("intent status = %s", it.Status)
	}

	// Mirrors track the settled ledger: 50 gross out, net in.
	fees := ledger.CalculateFees(50, 100)
	w1, err := f.store.WalletSnapshot(ctx, "A1")
	if err != nil || w1 == nil {
		t.Fatalf("wallet A1: %v", err)
	}
	if w1.BalanceSbyte != 50 {
		t.Fatalf("A1 mirror = %d", w1.BalanceSbyte)
	}
	w2, err := f.store.WalletSnapshot(ctx, "A2")
	if err != nil || w2 == nil {
		t.Fatalf("wallet A2: %v", err)
	}
	if w2.BalanceSbyte != fees.NetAmount {
		t.Fatalf("A2 mirror = %d, want %d", w2.BalanceSbyte, fees.NetAmount)
	}

	// Nothing left to claim.
	claimed, err = f.worker.ProcessOne(ctx)
	if err != nil || claimed {
		t.Fatalf("second claim: %v %v", claimed, err)
	}
}

func TestProcessOne_RetriesThenDeadletters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.Credit("A1", 100)
	f.sim.FailNext(1000, errors.New("rpc down"))

	if err := f.store.InsertIntent(ctx, engine.Intent{
		ID: "i1", ActorID: "A1", Type: "TRANSFER", Tick: 1,
		Status: engine.IntentQueued, CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("InsertIntent: %v", err)
	}
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferAgent, ActorID: "A1",
		RelatedIntentID: "i1",
		Payload:         map[string]any{"from": "A1", "to": "A2", "amount": 50},
	})

	attempts := 0
	for i := 0; i < 20; i++ {
		claimed, err := f.worker.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
		if claimed {
			attempts++
		}
		f.advance(time.Minute)
	}
	if attempts != 5 {
		t.Fatalf("attempts = %d, want 5", attempts)
	}

	j := f.job(t, "j1")
	if j.Status != engine.JobDeadletter {
		t.Fatalf("job status = %s", j.Status)
	}
	if j.RetryCount != 5 {
		t.Fatalf("retry count = %d", j.RetryCount)
	}

	it, err := f.store.GetIntent(ctx, "i1")
	if err != nil || it == nil {
		t.Fatalf("intent: %v", err)
	}
	if it.Status != engine.IntentBlocked {
		t.Fatalf("intent status = %s", it.Status)
	}
	if it.Params["blockCode"] != engine.CodeDeadletter {
		t.Fatalf("blockCode = %v", it.Params["blockCode"])
	}
	if it.Params["blockReason"] != "Settlement dead-lettered after 5 attempts: rpc down" {
		t.Fatalf("blockReason = %v", it.Params["blockReason"])
	}
	if f.sim.TransferCount() != 0 {
		t.Fatalf("transfers settled despite permanent failure: %d", f.sim.TransferCount())
	}
}

func TestProcessOne_BackoffGrowsPerAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.FailNext(1000, errors.New("rpc down"))
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferAgent, ActorID: "A1",
		Payload: map[string]any{"from": "A1", "to": "A2", "amount": 50},
	})

	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("first attempt: %v %v", claimed, err)
	}
	j := f.job(t, "j1")
	want := f.now.Add(5 * time.Second)
	if j.NextAttemptAt.Unix() != want.Unix() {
		t.Fatalf("attempt 1 backoff = %v, want %v", j.NextAttemptAt, want)
	}

	// Not yet due: the claim must skip it.
	f.advance(3 * time.Second)
	if claimed, err := f.worker.ProcessOne(ctx); err != nil || claimed {
		t.Fatalf("claimed during backoff: %v %v", claimed, err)
	}

	f.advance(10 * time.Second)
	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("second attempt: %v %v", claimed, err)
	}
	j = f.job(t, "j1")
	want = f.now.Add(10 * time.Second)
	if j.NextAttemptAt.Unix() != want.Unix() {
		t.Fatalf("attempt 2 backoff = %v, want %v", j.NextAttemptAt, want)
	}
}

// A business settlement is several sequential transfers. When a later step
// fails, the retry must not replay the steps that already settled.
func TestProcessOne_MultiStepIdempotentRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fees := ledger.CalculateFees(1000, 100)
	// Fund the payer for the net leg only, so the platform fee leg fails.
	f.sim.Credit("payer", fees.NetAmount)
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferBusiness, ActorID: "payer",
		Payload: map[string]any{
			"from": "payer", "business_id": "biz_1",
			"amount": 1000, "city_fee_bps": 100,
		},
	})

	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("first attempt: %v %v", claimed, err)
	}
	j := f.job(t, "j1")
	if j.Status != engine.JobQueued || j.RetryCount != 1 {
		t.Fatalf("first attempt = %+v", j)
	}
	if f.sim.TransferCount() != 1 {
		t.Fatalf("transfers after partial failure = %d", f.sim.TransferCount())
	}
	done, err := f.store.CompletedSteps(ctx, "j1")
	if err != nil {
		t.Fatalf("CompletedSteps: %v", err)
	}
	if _, ok := done[0]; !ok || len(done) != 1 {
		t.Fatalf("recorded steps = %v", done)
	}

	// Fund the fee legs and retry past the backoff window.
	f.sim.Credit("payer", fees.PlatformFee+fees.CityFee)
	f.advance(time.Minute)
	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("retry: %v %v", claimed, err)
	}

	j = f.job(t, "j1")
	if j.Status != engine.JobConfirmed {
		t.Fatalf("retry = %+v", j)
	}
	// Net leg once, fee legs once: no double settlement.
	if f.sim.TransferCount() != 3 {
		t.Fatalf("total transfers = %d, want 3", f.sim.TransferCount())
	}
	bal, err := f.sim.BalanceOf(ctx, "payer")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal != 0 {
		t.Fatalf("payer balance = %d", bal)
	}

	// The audit row reports the full split even though step 0 settled on a
	// prior attempt and was replayed from its recorded receipt.
	txs, err := f.store.TransactionsForActor(ctx, "payer")
	if err != nil {
		t.Fatalf("TransactionsForActor: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("audit rows = %d", len(txs))
	}
	tx := txs[0]
	if tx.Amount != 1000 || tx.NetAmount != fees.NetAmount ||
		tx.PlatformFee != fees.PlatformFee || tx.CityFee != fees.CityFee {
		t.Fatalf("audit tx = %+v, want split %+v", tx, fees)
	}
	if tx.TxHash == "" {
		t.Fatalf("audit tx missing hash")
	}
}

// Pre-split legs are fee exempt: the business and each vault receive their
// exact computed shares, with no second bps cut on any leg.
func TestProcessOne_BusinessSplitExactShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sim.Credit("payer", 1000)
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferBusiness, ActorID: "payer",
		Payload: map[string]any{
			"from": "payer", "business_id": "biz_1",
			"amount": 1000, "city_fee_bps": 100,
		},
	})
	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("ProcessOne: %v %v", claimed, err)
	}

	fees := ledger.CalculateFees(1000, 100)
	for account, want := range map[string]int64{
		"biz_1":                     fees.NetAmount,
		ledger.AccountPlatformVault: fees.PlatformFee,
		ledger.AccountCityVault:     fees.CityFee,
		"payer":                     0,
	} {
		got, err := f.sim.BalanceOf(ctx, account)
		if err != nil {
			t.Fatalf("BalanceOf %s: %v", account, err)
		}
		if got != want {
			t.Fatalf("%s balance = %d, want %d", account, got, want)
		}
	}
}

func TestResolveSuccess_BackfillsTransactionHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.Credit("A1", 100)

	if err := f.store.InsertTransaction(ctx, "tx1", "A1", "A2", 50, 48, 1, 1, "", "TRANSFER"); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	f.enqueue(t, engine.OnchainJob{
		ID: "j1", JobType: engine.JobTransferAgent, ActorID: "A1",
		RelatedTxID: "tx1",
		Payload:     map[string]any{"from": "A1", "to": "A2", "amount": 50},
	})
	if claimed, err := f.worker.ProcessOne(ctx); err != nil || !claimed {
		t.Fatalf("ProcessOne: %v %v", claimed, err)
	}

	j := f.job(t, "j1")
	if j.Status != engine.JobConfirmed {
		t.Fatalf("job status = %s", j.Status)
	}
}

func TestPlanSteps_UnknownTypeFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.worker.planSteps(&engine.OnchainJob{
		ID: "j1", JobType: "MINT_NFT",
		Payload: map[string]any{"from": "A1", "amount": 1},
	})
	if err == nil {
		t.Fatalf("unknown job type planned")
	}
	if want := fmt.Sprintf("job j1: unknown job type %q", "MINT_NFT"); err.Error() != want {
		t.Fatalf("err = %q, want %q", err.Error(), want)
	}
}
