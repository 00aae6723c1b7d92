// Package retry runs provider calls under a bounded linear backoff policy.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy describes how a failing call is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean one attempt.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number before the next try.
	BaseDelay time.Duration
	// Retryable reports whether err may succeed on a later attempt.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// DefaultPolicy retries transient provider errors three times in total,
// waiting 2s then 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Retryable:   domain.IsTransient,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable == nil {
		return domain.IsTransient(err)
	}
	return p.Retryable(err)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the execution context and the
// 1-based attempt number. The last error is returned unwrapped so callers
// can classify it.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if p.attempts() == 1 {
		return fn(ctx, 1)
	}

	logger := p.logger()
	policy := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return p.retryable(err)
		}).
		WithMaxAttempts(p.attempts()).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[T]) time.Duration {
			return p.Delay(exec.Attempts())
		}).
		OnRetry(func(e failsafe.ExecutionEvent[T]) {
			logger.Warn("retrying after transient error",
				slog.Int("attempt", e.Attempts()),
				slog.Int("max_attempts", p.attempts()),
				slog.String("error", errString(e.LastError())),
			)
		}).
		ReturnLastFailure().
		Build()

	return failsafe.With[T](policy).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[T]) (T, error) {
			return fn(exec.Context(), exec.Attempts())
		})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
