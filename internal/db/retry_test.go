package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestRetrySucceedsAfterContention(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), nil, "test", func() error {
		calls++
		if calls < 3 {
			return errLocked
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), nil, "test", func() error {
		calls++
		return errLocked
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, errLocked) {
		t.Errorf("final error does not wrap the lock error: %v", err)
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	boom := fmt.Errorf("constraint violation")
	calls := 0
	err := Retry(context.Background(), fastRetry(), nil, "test", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the original error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil, "test", func() error {
		return errLocked
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIsLockError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked message", errLocked, true},
		{"table locked", errors.New("database table is locked"), true},
		{"wrapped", fmt.Errorf("sync: %w", errLocked), true},
		{"other", errors.New("no such table: nodes"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLockError(tc.err); got != tc.want {
				t.Errorf("IsLockError = %v, want %v", got, tc.want)
			}
		})
	}
}
