package ports

import (
	"context"

	"github.com/ghalamif/AxisFlow/internal/domain"
)

// Distributor persists a machine record and pushes it to live subscribers.
type Distributor interface {
	Distribute(ctx context.Context, rec domain.MachineRecord) error
}

// LiveConn is the push side of one live connection. Push must not block.
type LiveConn interface {
	ID() string
	Push(rec domain.MachineRecord) error
}
