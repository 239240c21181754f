package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Pruner deletes samples older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRetention prunes samples older than pol.Retention until ctx is done.
// It returns immediately when retention is disabled.
func RunRetention(ctx context.Context, store Pruner, clk clock.Clock, pol ports.Policy, obs ports.Observability) error {
	if pol.Retention <= 0 {
		return nil
	}
	ticker := clk.NewTicker(PruneInterval(pol.Retention))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := store.PruneBefore(ctx, now.Add(-pol.Retention))
			if err != nil {
				obs.LogError("retention_prune_failed", err)
				continue
			}
			if n > 0 {
				obs.LogInfo("retention_pruned", ports.F("samples", n))
			}
		}
	}
}

// PruneInterval checks a tenth of the retention period, between 1s and 1h.
func PruneInterval(retention time.Duration) time.Duration {
	d := retention / 10
	switch {
	case d < time.Second:
		return time.Second
	case d > time.Hour:
		return time.Hour
	}
	return d
}
