package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransientSQLiteErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database is locked"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("disk I/O error: IOERR_SHORT_READ"), true},
		{errors.New("UNIQUE constraint failed: intents.id"), false},
		{errors.New("no such table: accounts"), false},
	}
	for _, c := range cases {
		if got := isTransientSQLiteErr(c.err); got != c.want {
			t.Fatalf("isTransientSQLiteErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryOp_RetriesTransientOnly(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}

	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("UNIQUE constraint failed")
	err = retryOp(cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("permanent error retried: err=%v calls=%d", err, calls)
	}
}

func TestRetryOp_GivesUpAfterBudget(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		return fmt.Errorf("attempt %d: SQLITE_BUSY", calls)
	})
	if err == nil {
		t.Fatalf("exhausted retries returned nil")
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}
