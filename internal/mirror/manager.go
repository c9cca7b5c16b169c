package mirror

import (
	"context"
	"sync"

	"attendance.service/internal/access"
	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"github.com/rs/zerolog/log"
)

// Manager owns the live subscriptions for one process. Each caller gets an
// independent mirror; a signed-out identity event tears all of them down.
type Manager struct {
	store    docstore.Store
	resolver *access.Resolver

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewManager(store docstore.Store, resolver *access.Resolver) *Manager {
	return &Manager{
		store:    store,
		resolver: resolver,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe resolves the caller's scope and starts a mirror over it.
func (m *Manager) Subscribe(ctx context.Context, caller model.Identity) (*Subscription, error) {
	scope, err := m.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	return m.SubscribeScope(ctx, scope)
}

// SubscribeScope starts a mirror over an already-resolved scope.
func (m *Manager) SubscribeScope(ctx context.Context, scope access.Scope) (*Subscription, error) {
	sub := NewSubscription(m.store, scope.Query())
	sub.onClose = m.release

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	if err := sub.Start(ctx); err != nil {
		m.release(sub)
		return nil, err
	}
	return sub, nil
}

// CloseAll cancels every live subscription, e.g. on sign-out.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// WatchIdentity consumes sign-in/sign-out events. A nil identity means
// signed out: all subscriptions and mirrors are cleared.
func (m *Manager) WatchIdentity(ctx context.Context, events <-chan *model.Identity) {
	for {
		select {
		case <-ctx.Done():
			return
		case ident, ok := <-events:
			if !ok {
				return
			}
			if ident == nil {
				log.Info().Msg("Identity signed out, clearing subscriptions")
				m.CloseAll()
			}
		}
	}
}

func (m *Manager) release(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}
