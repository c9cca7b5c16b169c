package mirror

import (
	"context"
	"sort"
	"sync"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Update is one mirror change delivered to the subscription holder: the
// initial snapshot as Added events, then incremental changes.
type Update struct {
	Type   docstore.EventType
	Record model.AttendanceRecord
}

// Subscription keeps a local mirror of the records visible under one scope,
// live against the document store's change stream. All remote notifications
// are applied latest-value-wins per record id; local writes go through
// Mutate/MutateDelete so optimistic state can be rolled back on rejection.
type Subscription struct {
	store   docstore.Store
	query   docstore.Query
	onClose func(*Subscription)

	mu        sync.RWMutex
	records   map[string]model.AttendanceRecord
	confirmed map[string]model.AttendanceRecord // last remote-confirmed value per id
	closed    bool
	started   bool
	lagged    bool // updates channel closed after consumer overflow

	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSubscription builds an inactive subscription for the given predicate.
func NewSubscription(store docstore.Store, query docstore.Query) *Subscription {
	return &Subscription{
		store:     store,
		query:     query,
		records:   make(map[string]model.AttendanceRecord),
		confirmed: make(map[string]model.AttendanceRecord),
		updates:   make(chan Update, 256),
		done:      make(chan struct{}),
	}
}

// Start begins the change-stream loop. A store outage never fails Start:
// the loop retries with exponential backoff while the last-known-good
// mirror stays readable.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return model.NewError(model.CodeStoreUnavailable, "subscription already started or canceled")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Cancel stops notification delivery immediately. In-flight writes complete
// independently; their results are discarded rather than applied here.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if !s.lagged {
		close(s.updates)
	}
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s)
	}
}

// Updates delivers snapshot and incremental changes until Cancel. The
// channel also closes when the consumer falls too far behind: a closed
// channel means "resubscribe for a fresh snapshot", never a silent gap.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Get returns the mirrored record for id.
func (s *Subscription) Get(id string) (model.AttendanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return model.AttendanceRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns the current mirror contents, ordered by date then id.
func (s *Subscription) Snapshot() []model.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AttendanceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Mutate applies rec optimistically, runs the remote write, and either
// confirms the optimistic value or rolls the id back to the last confirmed
// remote state. The commit error, if any, is returned unchanged.
func (s *Subscription) Mutate(ctx context.Context, rec model.AttendanceRecord, commit func(context.Context) error) error {
	s.applyOptimistic(rec)

	err := commit(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Result arrived after cancellation; the mirror is inactive.
		return err
	}
	if err != nil {
		s.rollbackLocked(rec.ID)
		return err
	}
	cur := s.records[rec.ID]
	s.confirmed[rec.ID] = cur.Clone()
	return nil
}

// MutateDelete removes rec optimistically and restores it if the remote
// delete is rejected.
func (s *Subscription) MutateDelete(ctx context.Context, id string, commit func(context.Context) error) error {
	s.mu.Lock()
	prior, had := s.records[id]
	if had && !s.closed {
		delete(s.records, id)
		s.emitLocked(Update{Type: docstore.EventRemoved, Record: prior.Clone()})
	}
	s.mu.Unlock()

	err := commit(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	if err != nil {
		if confirmed, ok := s.confirmed[id]; ok {
			s.records[id] = confirmed.Clone()
			s.emitLocked(Update{Type: docstore.EventAdded, Record: confirmed.Clone()})
		}
		return err
	}
	delete(s.confirmed, id)
	return nil
}

// run is the subscription's single logical thread: it owns all remote
// event application and resubscribes with exponential backoff on failure.
func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		events, err := s.store.Subscribe(ctx, s.query)
		if err == nil {
			b.Reset()
			// Snapshot after subscribing so nothing between the two is lost.
			if recs, lerr := s.store.List(ctx, s.query); lerr == nil {
				s.replaceAll(recs)
			} else {
				log.Warn().Err(lerr).Msg("Mirror snapshot refresh failed, keeping last known state")
			}
			for ev := range events {
				s.applyRemote(ev)
			}
		}

		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Change stream lost, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// applyRemote applies one store notification. The store is the source of
// truth: the incoming value always replaces the local one for that id,
// even while a local write for the same id is in flight.
func (s *Subscription) applyRemote(ev docstore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	id := ev.Record.ID
	switch ev.Type {
	case docstore.EventRemoved:
		delete(s.records, id)
		delete(s.confirmed, id)
	default:
		s.records[id] = ev.Record.Clone()
		s.confirmed[id] = ev.Record.Clone()
	}
	s.emitLocked(Update{Type: ev.Type, Record: ev.Record.Clone()})
}

// replaceAll reconciles the mirror with a fresh store snapshot, emitting
// the differences.
func (s *Subscription) replaceAll(recs []model.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	seen := make(map[string]struct{}, len(recs))
	for i := range recs {
		rec := recs[i]
		seen[rec.ID] = struct{}{}
		typ := docstore.EventModified
		if _, ok := s.records[rec.ID]; !ok {
			typ = docstore.EventAdded
		}
		s.records[rec.ID] = rec.Clone()
		s.confirmed[rec.ID] = rec.Clone()
		s.emitLocked(Update{Type: typ, Record: rec.Clone()})
	}
	for id, rec := range s.records {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(s.records, id)
		delete(s.confirmed, id)
		s.emitLocked(Update{Type: docstore.EventRemoved, Record: rec})
	}
}

func (s *Subscription) applyOptimistic(rec model.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	typ := docstore.EventModified
	if _, ok := s.records[rec.ID]; !ok {
		typ = docstore.EventAdded
	}
	s.records[rec.ID] = rec.Clone()
	s.emitLocked(Update{Type: typ, Record: rec.Clone()})
}

// rollbackLocked restores the last confirmed remote value for id. Caller
// holds s.mu.
func (s *Subscription) rollbackLocked(id string) {
	if confirmed, ok := s.confirmed[id]; ok {
		s.records[id] = confirmed.Clone()
		s.emitLocked(Update{Type: docstore.EventModified, Record: confirmed.Clone()})
		return
	}
	if rec, ok := s.records[id]; ok {
		delete(s.records, id)
		s.emitLocked(Update{Type: docstore.EventRemoved, Record: rec})
	}
}

// emitLocked delivers an update without blocking the event loop. Caller
// holds s.mu. A consumer that cannot keep up gets its channel closed
// rather than a sequence with holes in it; the mirror state itself stays
// current either way.
func (s *Subscription) emitLocked(u Update) {
	if s.lagged {
		return
	}
	select {
	case s.updates <- u:
	default:
		log.Warn().Msg("Mirror consumer fell behind, closing its update stream")
		s.lagged = true
		close(s.updates)
	}
}
