package axisflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AxisFlow/internal/adapters/sqlitestore"
	"github.com/ghalamif/AxisFlow/internal/clock"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "axisflow.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Generator.Disabled = true
	return cfg
}

func newTestRuntime(t *testing.T, cfg *Config, clk *clock.FakeClock, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{
		WithClock(clk),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRegistry(prometheus.NewRegistry()),
		WithRandSource(rand.NewPCG(1, 2)),
	}, opts...)
	rt, err := NewRuntime(cfg, opts...)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	cfg := testConfig(t)
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.Store.Path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	collectorStub := &stubCollector{}
	obsStub := &stubObservability{}

	rt := newTestRuntime(t, cfg, clock.Fake(testEpoch),
		WithStore(store),
		WithCollector(collectorStub),
		WithObservability(obsStub),
	)

	if rt.store != Store(store) {
		t.Fatalf("expected custom store to be used")
	}
	if rt.ownsStore {
		t.Fatalf("runtime must not own an injected store")
	}
	if rt.collector != collectorStub {
		t.Fatalf("expected custom collector to be used")
	}
	if rt.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestNewRuntimeRejectsBadOPCUAConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.OPCUA.Enabled = true

	if _, err := NewRuntime(cfg, WithLogger(slog.New(slog.DiscardHandler)), WithRegistry(prometheus.NewRegistry())); err == nil {
		t.Fatalf("expected error for opcua config without endpoint")
	}
}

func TestRuntimePublishReachesSubscriberAndHistory(t *testing.T) {
	clk := clock.Fake(testEpoch)
	rt := newTestRuntime(t, testConfig(t), clk)
	ctx := context.Background()

	m, err := rt.Machines().Create(ctx, "EMXP1", 24)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}

	sub, records, closeRecords := NewChannelSubscriber(4)
	defer closeRecords()
	unsubscribe, err := rt.Subscribe(m.MachineID, sub)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := Record{
		MachineID: m.MachineID,
		Timestamp: testEpoch.Add(-time.Minute),
		Axes: map[Axis]AxisReading{
			AxisX: {ToolOffset: 12.5, Feedrate: 900, ToolInUse: 3},
			AxisC: {ToolOffset: 6.25, Feedrate: 100, ToolInUse: 24},
		},
	}
	if err := rt.Publish(ctx, rec); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-records:
		if got.MachineName != "EMXP1" {
			t.Fatalf("expected machine name to be filled, got %q", got.MachineName)
		}
		if got.Axes[AxisC].ToolInUse != 24 {
			t.Fatalf("unexpected pushed record %+v", got)
		}
	default:
		t.Fatalf("expected the published record to be pushed synchronously")
	}

	history, err := rt.History(ctx, m.MachineID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected published and initial records, got %d", len(history))
	}
	if !history[0].Timestamp.Equal(rec.Timestamp) || len(history[1].Axes) != 5 {
		t.Fatalf("unexpected history order %+v", history)
	}

	stats, err := rt.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Store != "sqlite" || stats.Machines != 1 || stats.Connections != 1 || stats.Subscriptions != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	unsubscribe()
	unsubscribe()
	if err := rt.Publish(ctx, rec); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	select {
	case got := <-records:
		t.Fatalf("unsubscribed subscriber received %+v", got)
	default:
	}
}

func TestRuntimeHistoryUsesConfiguredWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Window = 2 * time.Minute
	rt := newTestRuntime(t, cfg, clock.Fake(testEpoch))
	ctx := context.Background()

	m, err := rt.Machines().Create(ctx, "EMXP1", 24)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	old := Record{
		MachineID: m.MachineID,
		Timestamp: testEpoch.Add(-5 * time.Minute),
		Axes:      map[Axis]AxisReading{AxisY: {ToolOffset: 8, Feedrate: 1, ToolInUse: 2}},
	}
	if err := rt.Publish(ctx, old); err != nil {
		t.Fatalf("publish: %v", err)
	}

	views, err := rt.History(ctx, m.MachineID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(views) != 1 || !views[0].Timestamp.Equal(testEpoch) {
		t.Fatalf("expected only the record inside the 2m window, got %+v", views)
	}
	if views, _ = rt.History(ctx, m.MachineID, 10*time.Minute); len(views) != 2 {
		t.Fatalf("expected an explicit window to override the default, got %d", len(views))
	}
}

func TestRuntimePublishUnknownMachine(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t), clock.Fake(testEpoch))

	err := rt.Publish(context.Background(), Record{
		MachineID: "M00000404",
		Timestamp: testEpoch,
		Axes:      map[Axis]AxisReading{AxisX: {ToolInUse: 1}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRuntimePublishRejectsNonFiniteReadings(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t), clock.Fake(testEpoch))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := rt.Machines().Create(ctx, "EMXP1", 24)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	for _, v := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		err := rt.Publish(ctx, Record{
			MachineID: m.MachineID,
			Timestamp: testEpoch.Add(-time.Second),
			Axes:      map[Axis]AxisReading{AxisX: {ToolOffset: v, Feedrate: 10, ToolInUse: 1}},
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("toolOffset %v: expected validation error, got %v", v, err)
		}
	}

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://"+rt.APIAddr().String()+"/api/historical-data?machineId="+m.MachineID, nil)
	req.Header.Set("X-Role", "OPERATOR")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var views []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected only the record generated on create, got %d", len(views))
	}
}

func TestRuntimeStartServesAPIAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seed.Machines = 3
	rt := newTestRuntime(t, cfg, clock.Fake(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+rt.APIAddr().String()+"/api/machines", nil)
	req.Header.Set("X-Role", "OPERATOR")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list machines: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var machines []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&machines); err != nil {
		t.Fatalf("decode machines: %v", err)
	}
	if len(machines) != 3 || machines[0]["machineName"] != "EMXP1" {
		t.Fatalf("expected 3 seeded machines, got %+v", machines)
	}

	body := get(t, "http://"+rt.MetricsAddr().String()+"/metrics")
	if !strings.Contains(body, "axis_samples_persisted_total") {
		t.Fatalf("metrics output missing pipeline counters")
	}
	if got := get(t, "http://"+rt.MetricsAddr().String()+"/healthz"); got != "ok" {
		t.Fatalf("unexpected health body %q", got)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRuntimeSchedulerDistributesToSubscribers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Disabled = false
	cfg.Seed.Machines = 2
	clk := clock.Fake(testEpoch)
	rt := newTestRuntime(t, cfg, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub, records, closeRecords := NewChannelSubscriber(4)
	defer closeRecords()
	if _, err := rt.Subscribe("M00000002", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, func() bool { return clk.TickerCount() >= 3 })
	clk.Advance(cfg.Generator.ToolInUseInterval)

	select {
	case got := <-records:
		if got.MachineID != "M00000002" || got.MachineName != "EMXP2" || len(got.Axes) != 5 {
			t.Fatalf("unexpected generated record %+v", got)
		}
		if !got.Timestamp.Equal(testEpoch.Add(cfg.Generator.ToolInUseInterval)) {
			t.Fatalf("expected tick timestamp, got %s", got.Timestamp)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for generated record")
	}
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t), clock.Fake(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	waitFor(t, func() bool { return rt.APIAddr() != nil })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	return string(raw)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stubCollector struct{}

func (s *stubCollector) Start(ctx context.Context, out Distributor) error { return nil }
func (s *stubCollector) Stop() error                                      { return nil }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)                    {}
func (s *stubObservability) LogError(string, error, ...Field)            {}
func (s *stubObservability) LogCritical(string, error, ...Field)         {}
func (s *stubObservability) IncCounter(string, float64)                  {}
func (s *stubObservability) ObserveLatency(string, float64)              {}
func (s *stubObservability) SetGauge(string, float64)                    {}
func (s *stubObservability) RecordDeliveryFailure(string, string, error) {}
