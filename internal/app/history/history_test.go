package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AxisFlow/internal/adapters/sqlitestore"
	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*sqlitestore.Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(testEpoch)
	s, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(t.TempDir(), "history.db"), Clock: clk})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func appendRecord(t *testing.T, s *sqlitestore.Store, id string, ts time.Time, axes ...domain.Axis) {
	t.Helper()
	batch := make([]domain.Sample, 0, len(axes))
	for _, a := range axes {
		batch = append(batch, domain.Sample{MachineID: id, Axis: a, ToolOffset: 9, Feedrate: 10, ToolInUse: 1, Timestamp: ts})
	}
	if err := s.AppendBatch(context.Background(), batch); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestGetHistoricalDataGroupsByTimestamp(t *testing.T) {
	store, clk := setup(t)
	ctx := context.Background()
	m, _ := store.CreateMachine(ctx, "EMXP1", 24)

	appendRecord(t, store, m.MachineID, testEpoch.Add(-20*time.Minute), domain.AxisX)
	appendRecord(t, store, m.MachineID, testEpoch.Add(-10*time.Minute), domain.Axes[:]...)
	appendRecord(t, store, m.MachineID, testEpoch.Add(-5*time.Minute), domain.AxisX, domain.AxisY)

	svc := NewService(store, store, clk, 0)
	views, err := svc.GetHistoricalData(ctx, m.MachineID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 records inside the default window, got %d", len(views))
	}
	if !views[0].Timestamp.Before(views[1].Timestamp) {
		t.Fatalf("records must be ascending")
	}
	if len(views[0].Axes) != 5 || len(views[1].Axes) != 2 {
		t.Fatalf("unexpected axis counts %d %d", len(views[0].Axes), len(views[1].Axes))
	}
	if views[0].MachineName != "EMXP1" {
		t.Fatalf("machine name not filled: %+v", views[0])
	}

	wide, err := svc.GetHistoricalData(ctx, m.MachineID, time.Hour)
	if err != nil || len(wide) != 3 {
		t.Fatalf("expected 3 records in a one hour window, got %d %v", len(wide), err)
	}
}

func TestGetHistoricalDataEmptyWindow(t *testing.T) {
	store, clk := setup(t)
	m, _ := store.CreateMachine(context.Background(), "EMXP1", 24)

	views, err := NewService(store, store, clk, 0).GetHistoricalData(context.Background(), m.MachineID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", views)
	}
}

func TestGetHistoricalDataDeletedMachine(t *testing.T) {
	store, clk := setup(t)
	ctx := context.Background()
	m, _ := store.CreateMachine(ctx, "EMXP1", 24)
	appendRecord(t, store, m.MachineID, testEpoch.Add(-time.Minute), domain.AxisZ)

	if err := store.DeleteMachine(ctx, m.MachineID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := NewService(store, store, clk, 0).GetHistoricalData(ctx, m.MachineID, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDefaultWindow(t *testing.T) {
	if got := NewService(nil, nil, nil, 0).window; got != DefaultWindow {
		t.Fatalf("expected %s, got %s", DefaultWindow, got)
	}
	if got := NewService(nil, nil, nil, time.Minute).window; got != time.Minute {
		t.Fatalf("expected configured window, got %s", got)
	}
}
