// Package history answers trailing-window queries over stored samples.
package history

import (
	"context"
	"time"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

const DefaultWindow = 15 * time.Minute

type Service struct {
	machines ports.MachineStore
	samples  ports.SampleStore
	clock    clock.Clock
	window   time.Duration
}

// NewService uses DefaultWindow when window is not positive.
func NewService(machines ports.MachineStore, samples ports.SampleStore, clk clock.Clock, window time.Duration) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{machines: machines, samples: samples, clock: clk, window: window}
}

// GetHistoricalData returns one record per distinct timestamp in
// [now-window, now], oldest first. An empty window yields an empty slice.
func (s *Service) GetHistoricalData(ctx context.Context, machineID string, window time.Duration) ([]domain.MachineRecord, error) {
	if window <= 0 {
		window = s.window
	}
	m, err := s.machines.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	end := s.clock.Now()
	samples, err := s.samples.QueryRange(ctx, machineID, end.Add(-window), end)
	if err != nil {
		return nil, err
	}
	return domain.GroupByTimestamp(m, samples), nil
}
