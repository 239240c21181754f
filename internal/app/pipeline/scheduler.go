package pipeline

import (
	"context"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Generator produces and distributes one record per machine.
type Generator interface {
	Generate(ctx context.Context, m *domain.Machine) ([]domain.MachineRecord, error)
}

// RunScheduler drives the three generation cadences until ctx is done. Every
// firing regenerates all axes of all machines, whichever ticker fired.
func RunScheduler(ctx context.Context, gen Generator, clk clock.Clock, pol ports.Policy, obs ports.Observability) error {
	toolOffset := clk.NewTicker(pol.ToolOffsetInterval)
	defer toolOffset.Stop()
	feedrate := clk.NewTicker(pol.FeedrateInterval)
	defer feedrate.Stop()
	toolInUse := clk.NewTicker(pol.ToolInUseInterval)
	defer toolInUse.Stop()

	obs.LogInfo("scheduler_started",
		ports.F("tool_offset_interval", pol.ToolOffsetInterval.String()),
		ports.F("feedrate_interval", pol.FeedrateInterval.String()),
		ports.F("tool_in_use_interval", pol.ToolInUseInterval.String()))

	for {
		var cadence string
		select {
		case <-ctx.Done():
			obs.LogInfo("scheduler_stopped")
			return nil
		case <-toolOffset.C:
			cadence = "tool_offset"
		case <-feedrate.C:
			cadence = "feedrate"
		case <-toolInUse.C:
			cadence = "tool_in_use"
		}

		recs, err := gen.Generate(ctx, nil)
		if err != nil {
			obs.LogError("scheduled_generation_failed", err, ports.F("cadence", cadence))
			continue
		}
		obs.LogInfo("scheduled_generation", ports.F("cadence", cadence), ports.F("records", len(recs)))
	}
}
