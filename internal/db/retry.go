package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
)

// RetryConfig tunes the lock-contention retry wrapper.
type RetryConfig struct {
	// MaxAttempts bounds the total tries, including the first.
	MaxAttempts int
	// BaseDelay is the first backoff; it doubles per attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig returns the standard backoff tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 8,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// Retry runs fn, retrying on lock contention with exponential backoff
// and jitter. Non-lock errors are never retried. The final lock error
// is surfaced after MaxAttempts.
func Retry(ctx context.Context, cfg RetryConfig, logger *log.Logger, op string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	delay := cfg.BaseDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsLockError(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := jitter(delay)
		if logger != nil {
			logger.Printf("%s: database locked (attempt %d/%d), retrying in %v", op, attempt, cfg.MaxAttempts, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, cfg.MaxAttempts, err)
}

// jitter spreads a delay by ±25% so competing writers don't retry in
// lockstep.
func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}

// IsLockError reports whether err is transient lock contention
// (SQLITE_BUSY or SQLITE_LOCKED).
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.BUSY, sqlite3.LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
