package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Sim is the offline ledger used in simulation/test mode: balances live in
// memory, transfers settle instantly and idempotency keys are honored so
// retried jobs observe exactly-once semantics.
type Sim struct {
	mu       sync.Mutex
	balances map[string]int64
	settled  map[string]Receipt
	txSeq    int

	// failures remaining to inject before calls succeed again.
	failNext int
	failErr  error
}

func NewSim() *Sim {
	return &Sim{
		balances: map[string]int64{},
		settled:  map[string]Receipt{},
	}
}

// Credit seeds an account balance.
func (s *Sim) Credit(account string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] += amount
}

// FailNext makes the next n Transfer calls fail with err. New (non-replayed)
// calls only: idempotent replays still return the recorded receipt.
func (s *Sim) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

func (s *Sim) Transfer(_ context.Context, req TransferReq) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if r, ok := s.settled[req.IdempotencyKey]; ok {
			return r, nil
		}
	}
	if s.failNext > 0 {
		s.failNext--
		err := s.failErr
		if err == nil {
			err = fmt.Errorf("simulated settlement failure")
		}
		return Receipt{}, err
	}
	if req.Amount <= 0 {
		return Receipt{}, fmt.Errorf("non-positive amount %d", req.Amount)
	}
	if s.balances[req.From] < req.Amount {
		return Receipt{}, fmt.Errorf("insufficient ledger balance for %s", req.From)
	}

	fees := CalculateFees(req.Amount, req.CityFeeBps)
	if req.FeeExempt {
		fees = Fees{NetAmount: req.Amount}
	}
	s.balances[req.From] -= req.Amount
	s.balances[req.To] += fees.NetAmount
	s.balances[AccountPlatformVault] += fees.PlatformFee
	s.balances[AccountCityVault] += fees.CityFee

	s.txSeq++
	r := Receipt{
		TxHash:      fmt.Sprintf("0xsim%06d", s.txSeq),
		NetAmount:   fees.NetAmount,
		PlatformFee: fees.PlatformFee,
		CityFee:     fees.CityFee,
	}
	if req.IdempotencyKey != "" {
		s.settled[req.IdempotencyKey] = r
	}
	return r, nil
}

func (s *Sim) BalanceOf(_ context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account], nil
}

// TransferCount reports how many distinct transfers settled (test helper).
func (s *Sim) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txSeq
}
