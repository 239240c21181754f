package ports

import (
	"context"
	"time"

	"github.com/ghalamif/AxisFlow/internal/domain"
)

// MachineStore persists machine definitions.
type MachineStore interface {
	CreateMachine(ctx context.Context, name string, toolCapacity int) (domain.Machine, error)
	GetMachine(ctx context.Context, machineID string) (domain.Machine, error)
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	UpdateMachine(ctx context.Context, machineID string, patch domain.MachinePatch) (domain.Machine, error)
	DeleteMachine(ctx context.Context, machineID string) error
	CountMachines(ctx context.Context) (int, error)
}

// SampleStore persists per-axis samples with a (machine, time) range index.
type SampleStore interface {
	Append(ctx context.Context, s domain.Sample) error
	AppendBatch(ctx context.Context, samples []domain.Sample) error
	QueryRange(ctx context.Context, machineID string, start, end time.Time) ([]domain.Sample, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the single durable backend behind the pipeline.
type Store interface {
	MachineStore
	SampleStore
	Name() string
	Close() error
}
