package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"webhook_trader/pkg/logger"
)

// Policy линейный backoff: после n-й неудачи ждём n*BaseDelay.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable решает, стоит ли повторять. nil = повторять всё.
	Retryable func(err error) bool
	// OnRetry вызывается перед каждой паузой (метрики).
	OnRetry func(op string, attempt int, err error)
}

// ExhaustedError все попытки израсходованы, Err последняя ошибка.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retry " + e.Op + ": attempts exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt >= attempts {
			logger.Warn("%s: giving up after %d attempts: %v", op, attempt, err)
			return zero, &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}
		logger.Warn("%s: attempt %d failed, retrying: %v", op, attempt, err)

		t := time.NewTimer(time.Duration(attempt) * p.BaseDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, errors.Wrap(err, ctx.Err().Error())
		case <-t.C:
		}
	}
}

// Run вариант Do для операций без результата.
func Run(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
