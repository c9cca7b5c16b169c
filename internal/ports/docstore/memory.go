package docstore

import (
	"context"
	"sort"
	"sync"

	"attendance.service/internal/core/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
// It delivers change notifications to subscribers over buffered channels.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.AttendanceRecord
	subs    map[int]*memorySub
	nextSub int
}

type memorySub struct {
	query Query
	ch    chan Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.AttendanceRecord),
		subs:    make(map[int]*memorySub),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, model.NewError(model.CodeNotFound, "record %s not found", id)
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec *model.AttendanceRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if err := s.openConflict(&stored); err != nil {
		return "", err
	}
	s.records[stored.ID] = stored
	s.broadcast(Event{Type: EventAdded, Record: stored.Clone()})
	return stored.ID, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *model.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return model.NewError(model.CodeNotFound, "record %s not found", rec.ID)
	}
	if err := s.openConflict(rec); err != nil {
		return err
	}
	stored := rec.Clone()
	s.records[stored.ID] = stored
	s.broadcast(Event{Type: EventModified, Record: stored.Clone()})
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return model.NewError(model.CodeNotFound, "record %s not found", id)
	}
	delete(s.records, id)
	s.broadcast(Event{Type: EventRemoved, Record: rec.Clone()})
	return nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]model.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AttendanceRecord
	for _, rec := range s.records {
		if q.Matches(&rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (<-chan Event, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &memorySub{query: q, ch: make(chan Event, 64)}
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

// openConflict rejects a write that would leave rec's owner with a second
// open record, the in-memory equivalent of the Postgres partial unique
// index. Caller holds s.mu.
func (s *MemoryStore) openConflict(rec *model.AttendanceRecord) error {
	if !rec.Open() {
		return nil
	}
	for id, other := range s.records {
		if id != rec.ID && other.OwnerID == rec.OwnerID && other.Open() {
			return model.NewError(model.CodeConflict, "owner %s already has open record %s", rec.OwnerID, id)
		}
	}
	return nil
}

// broadcast fans an event out to matching subscribers. Caller holds s.mu.
// Removal events are delivered through an owner-scoped subscription too,
// so a mirror can drop a record it currently holds.
func (s *MemoryStore) broadcast(ev Event) {
	for _, sub := range s.subs {
		if !sub.query.Matches(&ev.Record) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; drop rather than block writers. The mirror
			// recovers on resubscribe since events carry full snapshots.
		}
	}
}
