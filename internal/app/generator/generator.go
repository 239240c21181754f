// Package generator produces synthetic per-axis readings for registered machines.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Value ranges of generated readings. Upper bounds of the half-open ranges are exclusive.
const (
	MinToolOffset = 5.0
	MaxToolOffset = 40.0
	MaxFeedrate   = 20000
)

type Option func(*Generator)

// WithSource makes generation deterministic, mostly for tests.
func WithSource(src rand.Source) Option {
	return func(g *Generator) { g.rng = rand.New(src) }
}

type Generator struct {
	machines ports.MachineStore
	out      ports.Distributor
	obs      ports.Observability
	clock    clock.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

func New(machines ports.MachineStore, out ports.Distributor, obs ports.Observability, clk clock.Clock, opts ...Option) *Generator {
	if clk == nil {
		clk = clock.Real()
	}
	g := &Generator{
		machines: machines,
		out:      out,
		obs:      obs,
		clock:    clk,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate builds one record for machine, or for every registered machine when
// machine is nil, and hands each to the distributor. All records of one call
// share a timestamp. A failing machine is logged and skipped; the returned
// slice holds only the records that were distributed.
func (g *Generator) Generate(ctx context.Context, machine *domain.Machine) ([]domain.MachineRecord, error) {
	var targets []domain.Machine
	if machine != nil {
		targets = []domain.Machine{*machine}
	} else {
		all, err := g.machines.ListMachines(ctx)
		if err != nil {
			g.obs.LogError("generation_list_failed", err)
			return nil, err
		}
		targets = all
	}
	g.obs.IncCounter(ports.MetricGenerationRuns, 1)

	ts := domain.NormalizeTimestamp(g.clock.Now())
	out := make([]domain.MachineRecord, 0, len(targets))
	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := g.record(m, ts)
		if err != nil {
			g.obs.LogError("generation_skipped", err, ports.F("machine_id", m.MachineID))
			continue
		}
		if err := g.out.Distribute(ctx, rec); err != nil {
			// Distribute already logged and counted the failure.
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *Generator) record(m domain.Machine, ts time.Time) (domain.MachineRecord, error) {
	if m.ToolCapacity < 1 {
		return domain.MachineRecord{}, fmt.Errorf("%w: machine %s has toolCapacity %d",
			domain.ErrValidation, m.MachineID, m.ToolCapacity)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	axes := make(map[domain.Axis]domain.AxisReading, len(domain.Axes))
	for _, axis := range domain.Axes {
		axes[axis] = domain.AxisReading{
			ToolOffset: MinToolOffset + g.rng.Float64()*(MaxToolOffset-MinToolOffset),
			Feedrate:   g.rng.IntN(MaxFeedrate),
			ToolInUse:  1 + g.rng.IntN(m.ToolCapacity),
		}
	}
	return domain.MachineRecord{
		MachineID:   m.MachineID,
		MachineName: m.MachineName,
		Timestamp:   ts,
		Axes:        axes,
	}, nil
}
