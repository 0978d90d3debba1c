package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// shouldRetry reports whether a response status is worth another attempt.
// Status 0 means the request never got a response.
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case 0,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoff is InitialBackoff * 2^attempt, capped at MaxBackoff.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d)
}

// Do runs attempt until it succeeds, returns a non-retryable status, or the
// retry budget is spent. attempt reports the HTTP status it saw (0 if none).
func (c RetryConfig) Do(ctx context.Context, logger *slog.Logger, attempt func() (int, error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for i := 0; i <= c.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !shouldRetry(status) {
			return err
		}
		if i == c.MaxRetries {
			break
		}

		wait := c.backoff(i)
		logger.Warn("llm.retry",
			"attempt", i+1,
			"max_retries", c.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", c.MaxRetries, lastErr)
}
