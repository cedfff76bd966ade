package core

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/store"
)

// RetryPolicy is bounded exponential backoff with jitter for Busy and
// Locked store errors: delay_n = min(Initial·Base^n, Max) + U(0, delay_n/2).
type RetryPolicy struct {
	Initial     time.Duration
	Base        float64
	Max         time.Duration
	MaxAttempts int

	// jitter returns a value in [0, 1); nil uses math/rand/v2.
	jitter func() float64
}

// DefaultRetryPolicy is 50ms doubling up to 1s, five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     50 * time.Millisecond,
		Base:        2,
		Max:         time.Second,
		MaxAttempts: 5,
	}
}

// RetryPolicyFromConfig builds a policy from validated configuration.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Initial:     cfg.InitialDelay,
		Base:        float64(cfg.Base),
		Max:         cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Delay returns the sleep before retry n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.Initial) * math.Pow(p.Base, float64(n))
	if d > float64(p.Max) || math.IsInf(d, 0) {
		d = float64(p.Max)
	}
	j := p.jitter
	if j == nil {
		j = rand.Float64
	}
	return time.Duration(d + j()*d/2)
}

// Do calls fn until it succeeds, fails with a non-retryable error or the
// attempt budget runs out. It returns the number of attempts made and the
// last error. A cancelled ctx interrupts the backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for n := 1; ; n++ {
		err = fn()
		if err == nil || !store.IsRetryable(err) || n >= attempts {
			return n, err
		}

		timer := time.NewTimer(p.Delay(n - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, err
		case <-timer.C:
		}
	}
}
