package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/reelkit/reelkit-backend/internal/providers"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return providers.NewError("p", "op", providers.KindTransient, fmt.Errorf("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: want=nil got=%v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestDoFailsFastOnPermanentError(t *testing.T) {
	permanent := providers.NewError("p", "op", providers.KindContentPolicy, fmt.Errorf("rejected"))
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do: want=%v got=%v", permanent, err)
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestDoExhaustionEmbedsLastCause(t *testing.T) {
	cause := providers.NewError("p", "op", providers.KindRateLimited, fmt.Errorf("slow down"))
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do: want ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts: want=3 got=%d", exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("ExhaustedError should unwrap to the last cause")
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestDoSleepsExponentialBackoffBetweenAttempts(t *testing.T) {
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
	}
	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return providers.NewError("p", "op", providers.KindTransient, fmt.Errorf("flaky"))
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Do: want=nil got=%v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
	// two retries sleep base, then base*multiplier
	if want := 60 * time.Millisecond; elapsed < want {
		t.Fatalf("backoff: want>=%s got=%s", want, elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("backoff slept far longer than the schedule: %s", elapsed)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy().Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return providers.NewError("p", "op", providers.KindTransient, fmt.Errorf("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do: want=context.Canceled got=%v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestDoHonorsRetryAfterHintCappedByMaxDelay(t *testing.T) {
	p := Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Millisecond,
	}
	rateLimited := &providers.Error{
		Provider:   "p",
		Operation:  "op",
		Kind:       providers.KindRateLimited,
		RetryAfter: time.Hour,
	}
	start := time.Now()
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return rateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: want=nil got=%v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("hint was not capped by MaxDelay, slept %s", elapsed)
	}
}
