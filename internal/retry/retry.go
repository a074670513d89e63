// Package retry runs store operations under a bounded retry policy.
//
// Only transient infrastructure failures are retried. Everything else is
// returned on the first attempt, unchanged.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
)

// ErrTransientUnavailable is returned once every attempt failed with a
// transient error. API handlers map it to 503.
var ErrTransientUnavailable = errors.New("transient_unavailable")

type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error)
}

// Default retries transient errors three times, waiting 0.5s, 1s between attempts.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Linear(500 * time.Millisecond),
		Retryable:   IsTransient,
	}
}

// Linear waits base*attempt after the given attempt.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		last = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, fmt.Errorf("%w: %v", ErrTransientUnavailable, ctx.Err())
			case <-t.C:
			}
		}
	}
	return zero, fmt.Errorf("%w: after %d attempts: %v", ErrTransientUnavailable, attempts, last)
}

// IsTransient reports whether err looks like a timeout or connection
// failure talking to the store or another network dependency.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientUnavailable) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception; 57P01..03: server shutting down.
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0")
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var transientMessages = []string{
	"database is locked",
	"sqlite_busy",
	"database table is locked",
	"connection refused",
	"connection reset",
	"i/o timeout",
	"broken pipe",
	"bad connection",
}
