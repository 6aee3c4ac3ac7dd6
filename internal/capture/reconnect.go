package capture

import (
	"context"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff when a source is reopened
type ReconnectConfig struct {
	InitialDelay time.Duration // First retry delay (default: 1 second)
	MaxDelay     time.Duration // Retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reopen configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = initialDelay * 2^(attempt-1), capped at maxDelay.
//
// Example with default config:
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 6+: 30s
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Beyond 2^20 the cap always wins; also keeps the shift from overflowing.
	if attempt > 21 {
		attempt = 21
	}

	delay := cfg.InitialDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}

// sleepCtx waits for d or until ctx is done. Returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
