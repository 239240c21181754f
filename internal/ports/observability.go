package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDeliveryFailure(connectionID, machineID string, err error)
}

type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Metric names shared by the pipeline and the Prometheus adapter.
const (
	MetricSamplesPersisted   = "axis_samples_persisted_total"
	MetricRecordsDistributed = "axis_records_distributed_total"
	MetricStorageErrors      = "axis_storage_errors_total"
	MetricDeliveryFailures   = "axis_delivery_failures_total"
	MetricGenerationRuns     = "axis_generation_runs_total"
	MetricLiveConnections    = "axis_live_connections"
	MetricSubscriptions      = "axis_subscriptions"
	MetricDistributeLatency  = "axis_distribute_latency_seconds"
)
