package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBreakerOpensAfterRepeatedRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	rl := RateLimitError{Provider: "test", Message: "429"}

	cb.OnError(rl)
	cb.OnError(rl)
	if !cb.Allow() {
		t.Fatal("breaker opened before the threshold")
	}
	cb.OnError(rl)
	if cb.Allow() {
		t.Fatal("breaker still allows after the third rate limit")
	}
}

func TestBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.OnError(errors.New("connection reset"))
	cb.OnError(errors.New("bad gateway"))
	if !cb.Allow() {
		t.Fatal("breaker tripped on errors that are not rate limits")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	rl := RateLimitError{Provider: "test"}
	cb.OnError(rl)
	cb.OnSuccess()
	cb.OnError(rl)
	if !cb.Allow() {
		t.Fatal("success did not reset the failure count")
	}
}

func TestBreakerReclosesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond)
	cb.OnError(RateLimitError{Provider: "test"})
	if cb.Allow() {
		t.Fatal("breaker should be open right after tripping")
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker still open after the cooldown elapsed")
	}
}

func TestIsRateLimitMatchesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("generate: %w", RateLimitError{Provider: "test"})
	if !IsRateLimit(err) {
		t.Fatal("wrapped rate limit not recognized")
	}
	if IsRateLimit(errors.New("anything else")) {
		t.Fatal("plain error misclassified as rate limit")
	}
}

func TestRetryPolicyStopsAfterBudget(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	calls := 0
	err := p.Do(func() error {
		calls++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected the last error")
	}
	if calls != 3 {
		t.Fatalf("got %d calls for 2 retries, want 3", calls)
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("got %d calls, want 2", calls)
	}
}
