package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestSim_TransferMovesBalances(t *testing.T) {
	s := NewSim()
	ctx := context.Background()
	s.Credit("A1", 10_000)

	r, err := s.Transfer(ctx, TransferReq{From: "A1", To: "A2", Amount: 10_000, CityFeeBps: 100})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if r.TxHash != "0xsim000001" {
		t.Fatalf("tx hash = %q", r.TxHash)
	}
	if r.NetAmount != 9_650 || r.PlatformFee != 250 || r.CityFee != 100 {
		t.Fatalf("receipt = %+v", r)
	}

	for acct, want := range map[string]int64{
		"A1": 0, "A2": 9_650,
		AccountPlatformVault: 250,
		AccountCityVault:     100,
	} {
		bal, err := s.BalanceOf(ctx, acct)
		if err != nil {
			t.Fatalf("BalanceOf %s: %v", acct, err)
		}
		if bal != want {
			t.Fatalf("%s balance = %d, want %d", acct, bal, want)
		}
	}
}

func TestSim_FeeExemptMovesAmountWhole(t *testing.T) {
	s := NewSim()
	ctx := context.Background()
	s.Credit("A1", 1_000)

	r, err := s.Transfer(ctx, TransferReq{From: "A1", To: "A2", Amount: 1_000, CityFeeBps: 100, FeeExempt: true})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if r.NetAmount != 1_000 || r.PlatformFee != 0 || r.CityFee != 0 {
		t.Fatalf("receipt = %+v", r)
	}
	for acct, want := range map[string]int64{
		"A1": 0, "A2": 1_000,
		AccountPlatformVault: 0,
		AccountCityVault:     0,
	} {
		bal, _ := s.BalanceOf(ctx, acct)
		if bal != want {
			t.Fatalf("%s balance = %d, want %d", acct, bal, want)
		}
	}
}

func TestSim_InsufficientBalance(t *testing.T) {
	s := NewSim()
	s.Credit("A1", 10)
	if _, err := s.Transfer(context.Background(), TransferReq{From: "A1", To: "A2", Amount: 50}); err == nil {
		t.Fatalf("overdraft allowed")
	}
}

func TestSim_IdempotencyKeyReplays(t *testing.T) {
	s := NewSim()
	ctx := context.Background()
	s.Credit("A1", 100)

	req := TransferReq{From: "A1", To: "A2", Amount: 50, IdempotencyKey: "job:0"}
	r1, err := s.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	r2, err := s.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("replay receipt differs: %+v vs %+v", r1, r2)
	}
	if s.TransferCount() != 1 {
		t.Fatalf("transfer count = %d", s.TransferCount())
	}
	bal, _ := s.BalanceOf(ctx, "A1")
	if bal != 50 {
		t.Fatalf("double spend: A1 = %d", bal)
	}
}

func TestSim_FailNext(t *testing.T) {
	s := NewSim()
	ctx := context.Background()
	s.Credit("A1", 100)
	wantErr := errors.New("rpc down")
	s.FailNext(2, wantErr)

	for i := 0; i < 2; i++ {
		if _, err := s.Transfer(ctx, TransferReq{From: "A1", To: "A2", Amount: 10}); !errors.Is(err, wantErr) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if _, err := s.Transfer(ctx, TransferReq{From: "A1", To: "A2", Amount: 10}); err != nil {
		t.Fatalf("after failures: %v", err)
	}
}
