package database

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerGateway fails fast once the wrapped gateway keeps erroring. It
// never retries; an open circuit surfaces as gobreaker.ErrOpenState.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerGateway(next Gateway, maxFailures uint32, timeout time.Duration, logger *slog.Logger) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:    "database",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A caller that gave up says nothing about the database.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerGateway{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerGateway) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Execute(ctx, query, args...)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (b *BreakerGateway) State() gobreaker.State {
	return b.cb.State()
}
