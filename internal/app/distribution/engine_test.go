package distribution

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AxisFlow/internal/adapters/queue"
	"github.com/ghalamif/AxisFlow/internal/adapters/sqlitestore"
	"github.com/ghalamif/AxisFlow/internal/app/registry"
	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type mockObs struct {
	mu       sync.Mutex
	errors   []string
	counters map[string]float64
	failures []string
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}
func (m *mockObs) RecordDeliveryFailure(connID, _ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !errors.Is(err, domain.ErrDelivery) {
		panic("delivery failure not wrapped")
	}
	m.failures = append(m.failures, connID)
}

// recordingConn buffers every pushed record.
type recordingConn struct {
	id  string
	mu  sync.Mutex
	got []domain.MachineRecord
}

func (c *recordingConn) ID() string { return c.id }
func (c *recordingConn) Push(rec domain.MachineRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, rec)
	return nil
}

// stalledConn owns a one-slot outbox that nobody drains.
type stalledConn struct {
	id     string
	outbox *queue.MemQueue[domain.MachineRecord]
}

func (c *stalledConn) ID() string { return c.id }
func (c *stalledConn) Push(rec domain.MachineRecord) error {
	if !c.outbox.Enqueue(rec) {
		return errors.New("outbox full")
	}
	return nil
}

type brokenConn struct{ id string }

func (c brokenConn) ID() string                      { return c.id }
func (c brokenConn) Push(domain.MachineRecord) error { return errors.New("connection reset") }

type failingStore struct{ ports.SampleStore }

func (failingStore) AppendBatch(context.Context, []domain.Sample) error {
	return errors.Join(domain.ErrStorage, errors.New("disk full"))
}

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(sqlitestore.Config{
		Path:  filepath.Join(t.TempDir(), "dist.db"),
		Clock: clock.Fake(testEpoch),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fullRecord(m domain.Machine, ts time.Time) domain.MachineRecord {
	axes := make(map[domain.Axis]domain.AxisReading, len(domain.Axes))
	for i, axis := range domain.Axes {
		axes[axis] = domain.AxisReading{ToolOffset: 5.5 + float64(i), Feedrate: 1000 * i, ToolInUse: i + 1}
	}
	return domain.MachineRecord{MachineID: m.MachineID, MachineName: m.MachineName, Timestamp: ts, Axes: axes}
}

func TestDistributePersistsBeforePush(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	m, err := store.CreateMachine(ctx, "EMXP1", 24)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reg := registry.New(nil)
	conn := &recordingConn{id: "c1"}
	_ = reg.Register(conn)
	_ = reg.Subscribe("c1", m.MachineID)

	obs := &mockObs{}
	eng := NewEngine(store, reg, obs, clock.Fake(testEpoch))

	ts := testEpoch.Add(1500 * time.Microsecond)
	if err := eng.Distribute(ctx, fullRecord(m, ts)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(conn.got) != 1 {
		t.Fatalf("expected one push, got %d", len(conn.got))
	}
	pushed := conn.got[0]

	samples, err := store.QueryRange(ctx, m.MachineID, pushed.Timestamp, pushed.Timestamp)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	views := domain.GroupByTimestamp(m, samples)
	if len(views) != 1 {
		t.Fatalf("expected one stored record, got %d", len(views))
	}
	if !reflect.DeepEqual(views[0], pushed) {
		t.Fatalf("stored record differs from pushed record:\nstored %+v\npushed %+v", views[0], pushed)
	}
	if obs.counters[ports.MetricSamplesPersisted] != 5 || obs.counters[ports.MetricRecordsDistributed] != 1 {
		t.Fatalf("unexpected counters %v", obs.counters)
	}
}

func TestDistributeIsolatesBadSubscribers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	m, _ := store.CreateMachine(ctx, "EMXP1", 24)

	reg := registry.New(nil)
	a := &recordingConn{id: "a"}
	b := &recordingConn{id: "b"}
	stalled := &stalledConn{id: "s", outbox: queue.NewMemQueue[domain.MachineRecord](1)}
	broken := brokenConn{id: "x"}
	for _, c := range []ports.LiveConn{a, b, stalled, broken} {
		_ = reg.Register(c)
		_ = reg.Subscribe(c.ID(), m.MachineID)
	}

	obs := &mockObs{}
	eng := NewEngine(store, reg, obs, clock.Fake(testEpoch))

	for i := range 3 {
		if err := eng.Distribute(ctx, fullRecord(m, testEpoch.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("distribute %d: %v", i, err)
		}
	}

	if len(a.got) != 3 || !reflect.DeepEqual(a.got, b.got) {
		t.Fatalf("healthy subscribers diverged: a=%d b=%d", len(a.got), len(b.got))
	}
	// broken fails three times, stalled fails after its single slot fills.
	if len(obs.failures) != 5 {
		t.Fatalf("expected 5 delivery failures, got %v", obs.failures)
	}
}

func TestDistributeStorageFailurePushesNothing(t *testing.T) {
	reg := registry.New(nil)
	conn := &recordingConn{id: "c1"}
	_ = reg.Register(conn)
	_ = reg.Subscribe("c1", "M00000001")

	obs := &mockObs{}
	eng := NewEngine(failingStore{}, reg, obs, clock.Fake(testEpoch))

	m := domain.Machine{MachineID: "M00000001", MachineName: "EMXP1", ToolCapacity: 24}
	err := eng.Distribute(context.Background(), fullRecord(m, testEpoch))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(conn.got) != 0 {
		t.Fatalf("nothing may be pushed after a failed write")
	}
	if obs.counters[ports.MetricStorageErrors] != 1 {
		t.Fatalf("expected storage error counter, got %v", obs.counters)
	}
}

func TestDistributeRejectsInvalidRecord(t *testing.T) {
	eng := NewEngine(failingStore{}, registry.New(nil), &mockObs{}, nil)
	err := eng.Distribute(context.Background(), domain.MachineRecord{MachineID: "M00000001", Timestamp: testEpoch})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
