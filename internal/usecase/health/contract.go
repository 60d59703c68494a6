package health

import "context"

// Pinger checks the availability of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexBacklog reports documents the index could not catch up with.
type IndexBacklog interface {
	Parked() int
}
