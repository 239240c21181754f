package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AxisFlow/internal/ports"
)

const levelCritical = slog.LevelError + 4

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the pipeline metrics on reg. A nil reg means
// prometheus.DefaultRegisterer; a nil logger means slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	persisted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricSamplesPersisted,
		Help: "Total per-axis samples committed to the store.",
	})
	distributed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricRecordsDistributed,
		Help: "Machine records persisted and pushed to live subscribers.",
	})
	storageErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricStorageErrors,
		Help: "Records dropped because the store rejected or failed the write.",
	})
	deliveryFails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricDeliveryFailures,
		Help: "Live pushes that could not be handed to a connection.",
	})
	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricGenerationRuns,
		Help: "Generator invocations, one per timer firing or machine creation.",
	})
	conns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricLiveConnections,
		Help: "Currently registered live connections.",
	})
	subs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricSubscriptions,
		Help: "Connections currently subscribed to a machine.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricDistributeLatency,
		Help:    "Time from Distribute call to the last push attempt.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	reg.MustRegister(persisted, distributed, storageErrs, deliveryFails, runs, conns, subs, latency)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricSamplesPersisted:   persisted,
			ports.MetricRecordsDistributed: distributed,
			ports.MetricStorageErrors:      storageErrs,
			ports.MetricDeliveryFailures:   deliveryFails,
			ports.MetricGenerationRuns:     runs,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricLiveConnections: conns,
			ports.MetricSubscriptions:   subs,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricDistributeLatency: latency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs(nil, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.LogAttrs(context.Background(), levelCritical, msg, attrs(err, fields)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDeliveryFailure(connectionID, machineID string, err error) {
	p.IncCounter(ports.MetricDeliveryFailures, 1)
	p.logger.LogAttrs(context.Background(), slog.LevelWarn, "live_push_failed",
		slog.String("connection_id", connectionID),
		slog.String("machine_id", machineID),
		slog.Any("error", err),
	)
}

func attrs(err error, fields []ports.Field) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		out = append(out, slog.Any("error", err))
	}
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

// ReplaceLevel renders the critical level by name instead of "ERROR+4".
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

var _ ports.Observability = (*PromObs)(nil)
