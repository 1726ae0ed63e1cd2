package resilience

import "time"

// RetryPolicy reruns a synchronous call a fixed number of times with a
// flat pause between attempts. Streaming calls need the backoff in
// pkg/llm instead; this one is for short one-shot provider requests.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds or the retry budget is spent, returning
// the last error.
func (r RetryPolicy) Do(fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == r.MaxRetries {
			break
		}
		time.Sleep(r.Backoff)
	}
	return err
}
