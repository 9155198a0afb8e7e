package retry

import (
	"context"
	"errors"
	"testing"
)

type nopLogger struct {
	warns int
}

func (l *nopLogger) Warn(msg string, args ...any) {
	l.warns++
}

func TestWithBackoffEventualSuccess(t *testing.T) {
	log := &nopLogger{}
	calls := 0

	value, err := WithBackoff(context.Background(), "test_op", log, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ok" {
		t.Fatalf("expected ok, got %q", value)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if log.warns != 2 {
		t.Fatalf("expected 2 warn logs, got %d", log.warns)
	}
}

func TestWithBackoffExhaustionReturnsLastError(t *testing.T) {
	log := &nopLogger{}
	calls := 0
	last := errors.New("attempt 5")

	_, err := WithBackoff(context.Background(), "test_op", log, func(ctx context.Context) (int, error) {
		calls++
		if calls == 5 {
			return 0, last
		}
		return 0, errors.New("earlier")
	})
	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

func TestWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithBackoff(ctx, "test_op", &nopLogger{}, func(ctx context.Context) (int, error) {
		return 0, errors.New("always")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
