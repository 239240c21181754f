// Package distribution persists machine records and fans them out to live
// subscribers.
package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Subscribers resolves the live connections watching a machine.
type Subscribers interface {
	SubscribersOf(machineID string) []ports.LiveConn
}

type Engine struct {
	store ports.SampleStore
	subs  Subscribers
	obs   ports.Observability
	clock clock.Clock
}

func NewEngine(store ports.SampleStore, subs Subscribers, obs ports.Observability, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{store: store, subs: subs, obs: obs, clock: clk}
}

// Distribute writes every axis of rec in one batch and, only once that has
// committed, pushes the record to each subscriber of rec.MachineID. Push
// failures are recorded and swallowed; store failures are returned and nothing
// is pushed.
func (e *Engine) Distribute(ctx context.Context, rec domain.MachineRecord) error {
	start := e.clock.Now()
	if err := rec.Validate(); err != nil {
		e.obs.LogError("record_rejected", err, ports.F("machine_id", rec.MachineID))
		return err
	}
	rec.Timestamp = domain.NormalizeTimestamp(rec.Timestamp)

	samples := rec.Samples()
	if err := e.store.AppendBatch(ctx, samples); err != nil {
		if errors.Is(err, domain.ErrStorage) {
			e.obs.IncCounter(ports.MetricStorageErrors, 1)
			e.obs.LogError("storage_append_failed", err, ports.F("machine_id", rec.MachineID))
		} else {
			e.obs.LogError("record_rejected", err, ports.F("machine_id", rec.MachineID))
		}
		return err
	}
	e.obs.IncCounter(ports.MetricSamplesPersisted, float64(len(samples)))

	for _, conn := range e.subs.SubscribersOf(rec.MachineID) {
		if err := conn.Push(rec.Clone()); err != nil {
			if !errors.Is(err, domain.ErrDelivery) {
				err = fmt.Errorf("%w: %v", domain.ErrDelivery, err)
			}
			e.obs.RecordDeliveryFailure(conn.ID(), rec.MachineID, err)
		}
	}

	e.obs.IncCounter(ports.MetricRecordsDistributed, 1)
	e.obs.ObserveLatency(ports.MetricDistributeLatency, e.clock.Now().Sub(start).Seconds())
	return nil
}

var _ ports.Distributor = (*Engine)(nil)
