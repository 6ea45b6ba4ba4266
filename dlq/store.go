package dlq

import (
	"context"
	"time"

	"github.com/hooklinehq/hookline/id"
)

// Store is the persistence contract for dead letter entries.
type Store interface {
	// PushDLQ persists a new entry.
	PushDLQ(ctx context.Context, e *Entry) error

	// GetDLQEntry returns an entry by ID.
	GetDLQEntry(ctx context.Context, entryID id.ID) (*Entry, error)

	// ListDLQ returns entries, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int, error)

	// MarkReplayed records that an entry was replayed into a new delivery.
	MarkReplayed(ctx context.Context, entryID, deliveryID id.ID, at time.Time) error

	// PurgeDLQ deletes entries created before the cutoff and returns how
	// many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int, error)
}
