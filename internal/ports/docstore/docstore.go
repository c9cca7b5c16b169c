package docstore

import (
	"context"

	"attendance.service/internal/core/model"
)

// EventType classifies a change-stream notification.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventRemoved  EventType = "REMOVED"
)

// Event is one change-stream notification. The store always delivers full
// record snapshots, never partial field patches.
type Event struct {
	Type   EventType              `json:"type"`
	Record model.AttendanceRecord `json:"record"`
}

// Query is the predicate pushed down to the store boundary. The zero value
// matches every record (administrator scope).
type Query struct {
	OwnerID  string // restrict to one owner; "" means all owners
	Date     string // exact calendar date, YYYY-MM-DD
	DateFrom string // inclusive range start
	DateTo   string // inclusive range end
	OpenOnly bool   // only records with a check-in and no check-out
}

// Matches is the client-side fallback filter, applied where the store
// cannot filter server-side (e.g. on a shared notification channel).
func (q Query) Matches(r *model.AttendanceRecord) bool {
	if q.OwnerID != "" && r.OwnerID != q.OwnerID {
		return false
	}
	if q.Date != "" && r.Date != q.Date {
		return false
	}
	if q.DateFrom != "" && r.Date < q.DateFrom {
		return false
	}
	if q.DateTo != "" && r.Date > q.DateTo {
		return false
	}
	if q.OpenOnly && !r.Open() {
		return false
	}
	return true
}

// Store is the document store contract. Implementations return domain
// errors: CodeNotFound for missing ids and CodeStoreUnavailable for
// transport failures.
type Store interface {
	// Get fetches one record by id.
	Get(ctx context.Context, id string) (*model.AttendanceRecord, error)

	// Create persists a new record and returns the store-assigned id.
	Create(ctx context.Context, rec *model.AttendanceRecord) (string, error)

	// Update replaces the record identified by rec.ID with the full snapshot.
	Update(ctx context.Context, rec *model.AttendanceRecord) error

	// Delete removes the record permanently.
	Delete(ctx context.Context, id string) error

	// List returns the current records matching q.
	List(ctx context.Context, q Query) ([]model.AttendanceRecord, error)

	// Subscribe opens a change stream delivering every subsequent mutation
	// of records matching q, as full snapshots. The channel closes when ctx
	// is canceled or the stream fails; callers resubscribe on failure.
	Subscribe(ctx context.Context, q Query) (<-chan Event, error)
}
