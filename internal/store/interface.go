// Package store owns the durable ProxyNode rows: typed CRUD, filtered
// listing, sparse patches, and aggregate statistics. It is the single
// source of truth referenced throughout the rest of the gateway.
package store

import "context"

// Store is the interface every backend (Postgres, in-memory) implements.
// Not-found is surfaced as (nil, nil), never as an error, per spec.md §4.1.
type Store interface {
	Create(ctx context.Context, n *Node) (*Node, error)
	GetByID(ctx context.Context, id int64) (*Node, error)
	List(ctx context.Context, f Filters, skip, limit int) ([]*Node, error)
	Update(ctx context.Context, id int64, p Patch) (*Node, error)
	Delete(ctx context.Context, id int64) error
	Statistics(ctx context.Context) (Stats, error)

	// ConnCounter operations are the hot-path bracket used by every
	// scheduler's pick/report_* pair (spec.md §4.2). A backend may defer
	// full-row persistence for these (see CachedStore) as long as GetByID
	// and List observe the latest value.
	IncrementConnections(ctx context.Context, id int64) error
	DecrementConnections(ctx context.Context, id int64) error
}
