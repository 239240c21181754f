package ports

import "context"

// Collector feeds externally sourced machine records into a Distributor.
type Collector interface {
	Start(ctx context.Context, out Distributor) error
	Stop() error
}
