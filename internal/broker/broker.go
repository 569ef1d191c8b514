// Package broker implements the outbound execution port: submit, query,
// cancel, list open orders/positions, and health check. Transport is the
// teacher's resty-based REST client shape (internal/exchange/client.go),
// wrapped the way the spec requires: retry with backoff
// (github.com/cenkalti/backoff/v5) honoring Retry-After, and a circuit
// breaker (github.com/sony/gobreaker/v2) around every call.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

var (
	ErrEnvironmentMismatch = errors.New("broker: environment mismatch")
	ErrNonRetryable        = errors.New("broker: non-retryable error")
)

// SubmitRequest is what internal/orders hands the adapter on order
// creation.
type SubmitRequest struct {
	OrderID    string
	Symbol     types.Symbol
	Side       types.Side
	Type       types.OrderType
	TIF        types.TimeInForce
	Quantity   string
	LimitPrice string
	StopPrice  string
	Environment types.Environment
}

// OrderAck is the broker's response to a successful submit.
type OrderAck struct {
	BrokerID string
	Status   types.OrderStatus
}

// TransportError carries the vendor HTTP status and an optional
// Retry-After hint, so the retry policy can honor it instead of its own
// computed backoff.
type TransportError struct {
	StatusCode int
	RetryAfter time.Duration
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string { return fmt.Sprintf("broker transport: %v (status %d)", e.Err, e.StatusCode) }
func (e *TransportError) Unwrap() error { return e.Err }

// Transport is the low-level REST surface; RestTransport is the real
// implementation, a fake is substituted in tests.
type Transport interface {
	Submit(ctx context.Context, req SubmitRequest) (OrderAck, error)
	GetStatus(ctx context.Context, brokerID string) (types.OrderSnapshot, error)
	Cancel(ctx context.Context, brokerID string) error
	ListOpen(ctx context.Context) ([]types.OrderSnapshot, error)
	ListPositions(ctx context.Context) ([]types.PositionSnapshot, error)
	HealthCheck(ctx context.Context) error
}

// Adapter wraps a Transport with environment safety, retry, and a circuit
// breaker.
type Adapter struct {
	Environment types.Environment
	transport   Transport
	breaker     *gobreaker.CircuitBreaker[any]
	retryPolicy func() backoff.BackOff
}

func NewAdapter(env types.Environment, t Transport) *Adapter {
	return NewAdapterWithBreakerSettings(env, t, DefaultBreakerSettings())
}

// DefaultBreakerSettings opens the breaker at a 0.5 failure rate over a
// minimum of 5 calls (within a 10-call-ish window), stays open 30s, and
// allows 3 half-open probes before closing again.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "broker-adapter",
		MaxRequests: 3,                // half_open_calls
		Interval:    10 * time.Second, // sliding window for the Closed-state counters
		Timeout:     30 * time.Second, // wait_duration
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.5
		},
	}
}

// NewAdapterWithBreakerSettings is NewAdapter with the gobreaker settings
// injectable, so tests can shrink Timeout/Interval to exercise the
// Closed→Open→HalfOpen→Closed cycle without a real 30s wait.
func NewAdapterWithBreakerSettings(env types.Environment, t Transport, settings gobreaker.Settings) *Adapter {
	return &Adapter{
		Environment: env,
		transport:   t,
		breaker:     gobreaker.NewCircuitBreaker[any](settings),
		retryPolicy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// Submit re-checks the environment before any network call, then runs
// the call through retry+breaker.
func (a *Adapter) Submit(ctx context.Context, req SubmitRequest) (OrderAck, error) {
	if req.Environment != a.Environment {
		return OrderAck{}, fmt.Errorf("%w: adapter configured for %s, request targets %s", ErrEnvironmentMismatch, a.Environment, req.Environment)
	}
	result, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.transport.Submit(ctx, req)
	})
	if err != nil {
		return OrderAck{}, err
	}
	return result.(OrderAck), nil
}

func (a *Adapter) GetStatus(ctx context.Context, brokerID string) (types.OrderSnapshot, error) {
	result, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.transport.GetStatus(ctx, brokerID)
	})
	if err != nil {
		return types.OrderSnapshot{}, err
	}
	return result.(types.OrderSnapshot), nil
}

func (a *Adapter) Cancel(ctx context.Context, brokerID string) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return nil, a.transport.Cancel(ctx, brokerID)
	})
	return err
}

func (a *Adapter) ListOpen(ctx context.Context) ([]types.OrderSnapshot, error) {
	result, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.transport.ListOpen(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]types.OrderSnapshot), nil
}

func (a *Adapter) ListPositions(ctx context.Context) ([]types.PositionSnapshot, error) {
	result, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.transport.ListPositions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]types.PositionSnapshot), nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return nil, a.transport.HealthCheck(ctx)
	})
	return err
}

// call runs op through the circuit breaker; inside the breaker, transient
// transport errors are retried per the backoff policy, while
// non-retryable errors (auth, validation, environment mismatch, terminal
// cancel) short-circuit immediately.
func (a *Adapter) call(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	return a.breaker.Execute(func() (any, error) {
		return backoff.Retry(ctx, func() (any, error) {
			result, err := op(ctx)
			if err == nil {
				return result, nil
			}

			var terr *TransportError
			if errors.As(err, &terr) {
				if !terr.Retryable {
					return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrNonRetryable, terr))
				}
				if terr.RetryAfter > 0 {
					return nil, &backoff.RetryAfterError{Duration: terr.RetryAfter}
				}
			}
			return nil, err
		}, backoff.WithBackOff(a.retryPolicy()))
	})
}
