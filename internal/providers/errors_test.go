package providers

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRetryableByKind(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindTransient, true},
		{KindRateLimited, true},
		{KindPermanent, false},
		{KindMalformedInput, false},
		{KindContentPolicy, false},
	}
	for _, tc := range cases {
		err := NewError("p", "op", tc.kind, fmt.Errorf("boom"))
		if got := Retryable(err); got != tc.want {
			t.Fatalf("Retryable(%s): want=%v got=%v", tc.kind, tc.want, got)
		}
	}
}

func TestRetryableContextErrors(t *testing.T) {
	if Retryable(context.Canceled) {
		t.Fatalf("caller cancel must not be retryable")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Fatalf("blown per-call deadline should be retryable")
	}
	if Retryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
}

func TestRetryableWrappedProviderError(t *testing.T) {
	inner := NewError("p", "op", KindTransient, fmt.Errorf("boom"))
	wrapped := fmt.Errorf("stage: %w", inner)
	if !Retryable(wrapped) {
		t.Fatalf("wrapped transient error should stay retryable")
	}
}

func TestRetryAfterHint(t *testing.T) {
	if _, ok := RetryAfterHint(fmt.Errorf("plain")); ok {
		t.Fatalf("plain error should carry no hint")
	}
	err := &Error{Provider: "p", Operation: "op", Kind: KindRateLimited, RetryAfter: 7 * time.Second}
	hint, ok := RetryAfterHint(fmt.Errorf("stage: %w", err))
	if !ok || hint != 7*time.Second {
		t.Fatalf("RetryAfterHint: want=7s ok=true got=%s ok=%v", hint, ok)
	}
}

func TestKindForHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want ErrorKind
	}{
		{429, KindRateLimited},
		{400, KindMalformedInput},
		{404, KindMalformedInput},
		{413, KindMalformedInput},
		{403, KindContentPolicy},
		{422, KindContentPolicy},
		{408, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{402, KindPermanent},
	}
	for _, tc := range cases {
		if got := kindForHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("kindForHTTPStatus(%d): want=%s got=%s", tc.code, tc.want, got)
		}
	}
}
