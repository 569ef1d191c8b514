package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorTouchResetsToHealthy(t *testing.T) {
	t.Parallel()

	m := NewMonitor(50*time.Millisecond, 150*time.Millisecond)
	m.lastMsg.Store(time.Now().Add(-time.Hour).UnixNano())
	m.evaluate()
	if m.Current() != Timeout {
		t.Fatalf("status = %v, want Timeout before Touch", m.Current())
	}

	m.Touch()
	if m.Current() != Healthy {
		t.Fatalf("status = %v, want Healthy after Touch", m.Current())
	}
}

func TestMonitorRunTransitionsAndCallbacks(t *testing.T) {
	t.Parallel()

	m := NewMonitor(20*time.Millisecond, 60*time.Millisecond)
	m.PollInterval = 5 * time.Millisecond

	var staleCount, timeoutCount atomic.Int32
	m.OnStale(func() { staleCount.Add(1) })
	m.OnTimeout(func() { timeoutCount.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if staleCount.Load() == 0 {
		t.Fatal("expected at least one OnStale invocation")
	}
	if timeoutCount.Load() == 0 {
		t.Fatal("expected at least one OnTimeout invocation")
	}
	if m.Current() != Timeout {
		t.Fatalf("final status = %v, want Timeout", m.Current())
	}
}
