package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	Sleep       func(time.Duration)
}

// Retry runs fn with exponential backoff until it succeeds, the error
// is not retryable, or attempts are exhausted.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (string, error)) (string, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	var lastErr error
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || i == cfg.MaxAttempts-1 {
			break
		}
		delay := float64(cfg.BaseDelay) * math.Pow(2, float64(i))
		if cfg.Jitter > 0 {
			delay += delay * cfg.Jitter * r.Float64()
		}
		if delay > float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
		}
		cfg.Sleep(time.Duration(delay))
	}
	return "", lastErr
}

// DefaultIsRetryable treats timeouts as retryable and cancellation as
// final. A caller deadline also reads as a timeout here; Retry's own
// context check is what stops the loop in that case.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
