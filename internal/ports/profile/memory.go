package profile

import (
	"context"
	"sync"

	"attendance.service/internal/core/model"
)

// MemoryStore is an in-process profile store for tests and local dev.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
	watchers []chan model.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]model.Profile)}
}

func (s *MemoryStore) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[uid]
	if !ok {
		return nil, model.NewError(model.CodeNotFound, "profile %s not found", uid)
	}
	out := p
	return &out, nil
}

// Put writes a profile and notifies watchers.
func (s *MemoryStore) Put(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UID] = p
	for _, ch := range s.watchers {
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *MemoryStore) Changes(ctx context.Context) (<-chan model.Profile, error) {
	ch := make(chan model.Profile, 16)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch, nil
}
