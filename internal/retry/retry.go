package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/reelkit/reelkit-backend/internal/providers"
)

// Policy wraps any fallible operation in bounded exponential backoff.
// Transient and rate-limited failures consume attempts and sleep between
// them; permanent failures surface immediately without touching the budget.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// ExhaustedError is returned once the attempt budget is spent. It embeds the
// last underlying cause for diagnostics.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op until it succeeds, fails permanently, or the budget runs out.
// Backoff sleeps honor ctx cancellation and any provider retry-after hint,
// and are taken while holding no locks.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	delay := base
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !providers.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		sleepFor := delay
		if hint, ok := providers.RetryAfterHint(lastErr); ok {
			sleepFor = hint
		}
		if p.MaxDelay > 0 && sleepFor > p.MaxDelay {
			sleepFor = p.MaxDelay
		}

		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * mult)
	}

	return &ExhaustedError{Attempts: attempts, Last: lastErr}
}
