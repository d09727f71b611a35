package storage

import (
	"context"
	"time"

	"github.com/cuemby/rollout/pkg/types"
)

// AuditLog is the append-only record of rollback events. There is no update
// or delete operation.
type AuditLog interface {
	// Append durably records event. Storage errors are returned, never dropped.
	Append(ctx context.Context, event *types.RollbackEvent) error

	// Query returns a lazy iterator over events matching filter, ordered by
	// timestamp ascending
	Query(filter Filter) Iterator

	Close() error
}

// Filter selects events by time range and, optionally, lineage. From is
// inclusive and To exclusive; a zero To means "up to the moment of the query".
type Filter struct {
	From    time.Time
	To      time.Time
	Lineage string
}

// Iterator walks query results. It is finite and can be restarted with Reset.
//
//	it := log.Query(storage.Filter{From: since})
//	for it.Next() {
//		ev := it.Event()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Event() types.RollbackEvent
	Err() error
	Reset()
}

// Collect drains an iterator into a slice
func Collect(it Iterator) ([]types.RollbackEvent, error) {
	var events []types.RollbackEvent
	for it.Next() {
		events = append(events, it.Event())
	}
	return events, it.Err()
}
