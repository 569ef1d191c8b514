package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

type fakeTransport struct {
	submitErr   error
	submitCalls atomic.Int32
	ack         OrderAck
}

func (f *fakeTransport) Submit(_ context.Context, _ SubmitRequest) (OrderAck, error) {
	f.submitCalls.Add(1)
	if f.submitErr != nil {
		return OrderAck{}, f.submitErr
	}
	return f.ack, nil
}
func (f *fakeTransport) GetStatus(context.Context, string) (types.OrderSnapshot, error) {
	return types.OrderSnapshot{}, nil
}
func (f *fakeTransport) Cancel(context.Context, string) error { return nil }
func (f *fakeTransport) ListOpen(context.Context) ([]types.OrderSnapshot, error) {
	return nil, nil
}
func (f *fakeTransport) ListPositions(context.Context) ([]types.PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeTransport) HealthCheck(context.Context) error { return nil }

func TestSubmitRejectsEnvironmentMismatch(t *testing.T) {
	t.Parallel()

	a := NewAdapter(types.Paper, &fakeTransport{})
	_, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Live})
	if !errors.Is(err, ErrEnvironmentMismatch) {
		t.Fatalf("Submit = %v, want ErrEnvironmentMismatch", err)
	}
}

func TestSubmitSucceeds(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{ack: OrderAck{BrokerID: "brk-1", Status: types.StatusAccepted}}
	a := NewAdapter(types.Paper, ft)

	ack, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.BrokerID != "brk-1" {
		t.Fatalf("BrokerID = %q, want brk-1", ack.BrokerID)
	}
}

func TestSubmitNonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{submitErr: &TransportError{StatusCode: 401, Retryable: false, Err: errors.New("auth failed")}}
	a := NewAdapter(types.Paper, ft)

	_, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper})
	if err == nil {
		t.Fatal("expected an error for a non-retryable transport failure")
	}
	if ft.submitCalls.Load() != 1 {
		t.Fatalf("submit calls = %d, want exactly 1 (non-retryable must not retry)", ft.submitCalls.Load())
	}
}

// TestCircuitBreakerOpensWaitsAndCloses drives the full lifecycle: 6
// failures trip the breaker (threshold 0.5 over a minimum of 5 calls), the
// 7th call is rejected without reaching the transport, and after the wait
// duration, 3 successful half-open probes close the breaker again.
func TestCircuitBreakerOpensWaitsAndCloses(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{submitErr: &TransportError{StatusCode: 422, Retryable: false, Err: errors.New("rejected")}}
	settings := DefaultBreakerSettings()
	settings.Timeout = 20 * time.Millisecond
	settings.Interval = time.Minute // closed-state counters don't reset mid-test
	a := NewAdapterWithBreakerSettings(types.Paper, ft, settings)

	for i := 0; i < 6; i++ {
		if _, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper}); err == nil {
			t.Fatalf("submission %d: expected failure", i)
		}
	}
	if ft.submitCalls.Load() != 6 {
		t.Fatalf("submit calls after 6 failures = %d, want 6", ft.submitCalls.Load())
	}

	// 7th call: breaker is Open, rejected without reaching the transport.
	_, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("7th submit = %v, want gobreaker.ErrOpenState", err)
	}
	if ft.submitCalls.Load() != 6 {
		t.Fatalf("submit calls after open rejection = %d, want still 6 (no network call)", ft.submitCalls.Load())
	}

	// Wait out the breaker's open duration; it then admits half-open probes.
	time.Sleep(settings.Timeout + 10*time.Millisecond)

	ft.submitErr = nil
	ft.ack = OrderAck{BrokerID: "brk-recovered", Status: types.StatusAccepted}
	for i := 0; i < 3; i++ {
		if _, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper}); err != nil {
			t.Fatalf("half-open probe %d: unexpected error %v", i, err)
		}
	}
	if ft.submitCalls.Load() != 9 {
		t.Fatalf("submit calls after 3 probes = %d, want 9", ft.submitCalls.Load())
	}

	// All probes succeeded: breaker is Closed again, the 10th call is
	// permitted and reaches the transport like any other.
	if _, err := a.Submit(context.Background(), SubmitRequest{Environment: types.Paper}); err != nil {
		t.Fatalf("10th submit after recovery: unexpected error %v", err)
	}
	if ft.submitCalls.Load() != 10 {
		t.Fatalf("submit calls after recovery = %d, want 10", ft.submitCalls.Load())
	}
}
