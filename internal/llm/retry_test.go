package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentichat/agentichat/internal/agenterr"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, nil, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 1 {
		t.Fatalf("got=%q err=%v calls=%d", got, err, calls)
	}
}

func TestDoRetriesRetryableThenSucceeds(t *testing.T) {
	calls := 0
	retries := 0
	got, err := Do(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
		func(info RetryInfo) { retries++ },
		func() (string, error) {
			calls++
			if calls < 3 {
				return "", agenterr.New(agenterr.ServerError, "boom")
			}
			return "ok", nil
		})
	if err != nil || got != "ok" || calls != 3 || retries != 2 {
		t.Fatalf("got=%q err=%v calls=%d retries=%d", got, err, calls, retries)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, func() (string, error) {
		calls++
		return "", agenterr.New(agenterr.AuthError, "nope")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, nil, func() (string, error) {
		calls++
		return "", agenterr.New(agenterr.RateLimit, "still limited")
	})
	if err == nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond}, func(info RetryInfo) {
		if info.Attempt == 1 {
			cancel()
		}
	}, func() (string, error) {
		calls++
		return "", agenterr.New(agenterr.Timeout, "slow")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		status int
		want   agenterr.Kind
	}{
		{429, agenterr.RateLimit},
		{401, agenterr.AuthError},
		{403, agenterr.AuthError},
		{404, agenterr.ModelNotFound},
		{500, agenterr.ServerError},
		{503, agenterr.ServerError},
	}
	for _, c := range cases {
		err := ClassifyHTTPError(c.status, nil)
		if agenterr.KindOf(err) != c.want {
			t.Errorf("status %d: kind = %v, want %v", c.status, agenterr.KindOf(err), c.want)
		}
	}
}
