package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type mockObs struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field)   {}
func (m *mockObs) IncCounter(string, float64)                  {}
func (m *mockObs) ObserveLatency(string, float64)              {}
func (m *mockObs) SetGauge(string, float64)                    {}
func (m *mockObs) RecordDeliveryFailure(string, string, error) {}

type countingGenerator struct {
	calls   atomic.Int32
	allNil  atomic.Bool
	failing bool
}

func (g *countingGenerator) Generate(_ context.Context, m *domain.Machine) ([]domain.MachineRecord, error) {
	g.calls.Add(1)
	if m != nil {
		g.allNil.Store(false)
	}
	if g.failing {
		return nil, domain.ErrStorage
	}
	return nil, nil
}

type prunerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f prunerFunc) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func defaultPolicy() ports.Policy {
	return ports.Policy{
		ToolOffsetInterval: time.Minute,
		FeedrateInterval:   time.Minute,
		ToolInUseInterval:  30 * time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerFiresEachCadence(t *testing.T) {
	clk := clock.Fake(testEpoch)
	gen := &countingGenerator{}
	gen.allNil.Store(true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- RunScheduler(ctx, gen, clk, defaultPolicy(), &mockObs{}) }()
	waitFor(t, "tickers", func() bool { return clk.TickerCount() == 3 })

	clk.Advance(30 * time.Second)
	waitFor(t, "tool in use firing", func() bool { return gen.calls.Load() == 1 })

	// At one minute all three cadences are due.
	clk.Advance(30 * time.Second)
	waitFor(t, "minute firings", func() bool { return gen.calls.Load() == 4 })

	if !gen.allNil.Load() {
		t.Fatalf("scheduled runs must target every machine")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("scheduler returned %v", err)
	}
	if clk.TickerCount() != 0 {
		t.Fatalf("tickers not stopped on shutdown")
	}
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	clk := clock.Fake(testEpoch)
	gen := &countingGenerator{failing: true}
	obs := &mockObs{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = RunScheduler(ctx, gen, clk, defaultPolicy(), obs) }()
	waitFor(t, "tickers", func() bool { return clk.TickerCount() == 3 })

	clk.Advance(30 * time.Second)
	waitFor(t, "first firing", func() bool { return gen.calls.Load() == 1 })
	clk.Advance(30 * time.Second)
	waitFor(t, "later firings", func() bool { return gen.calls.Load() == 4 })

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.errors) == 0 || obs.errors[0] != "scheduled_generation_failed" {
		t.Fatalf("expected logged failures, got %v", obs.errors)
	}
}

func TestRetentionPrunesOldSamples(t *testing.T) {
	clk := clock.Fake(testEpoch)
	cutoffs := make(chan time.Time, 4)
	pruner := prunerFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
		cutoffs <- cutoff
		return 3, nil
	})
	pol := ports.Policy{Retention: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = RunRetention(ctx, pruner, clk, pol, &mockObs{}) }()
	waitFor(t, "retention ticker", func() bool { return clk.TickerCount() == 1 })

	clk.Advance(PruneInterval(time.Hour))
	select {
	case cutoff := <-cutoffs:
		want := testEpoch.Add(6 * time.Minute).Add(-time.Hour)
		if !cutoff.Equal(want) {
			t.Fatalf("expected cutoff %s, got %s", want, cutoff)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("prune was not called")
	}
}

func TestRetentionDisabled(t *testing.T) {
	called := false
	pruner := prunerFunc(func(context.Context, time.Time) (int64, error) {
		called = true
		return 0, errors.New("unexpected")
	})
	if err := RunRetention(context.Background(), pruner, clock.Fake(testEpoch), ports.Policy{}, &mockObs{}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if called {
		t.Fatalf("disabled retention must not prune")
	}
}

func TestPruneInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		5 * time.Second:     time.Second,
		time.Hour:           6 * time.Minute,
		30 * 24 * time.Hour: time.Hour,
	}
	for retention, want := range cases {
		if got := PruneInterval(retention); got != want {
			t.Fatalf("PruneInterval(%s) = %s, want %s", retention, got, want)
		}
	}
}
