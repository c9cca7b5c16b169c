package identity

import (
	"sync"

	"attendance.service/internal/core/model"
)

// Hub is the sign-in/sign-out event stream. A nil emission means signed
// out; consumers clear their subscriptions and mirrors on it.
type Hub struct {
	mu        sync.Mutex
	listeners []chan *model.Identity
}

func NewHub() *Hub {
	return &Hub{}
}

// Events returns a channel receiving identity events from now on, plus a
// cancel func that removes the listener and closes the channel. Cancel is
// safe to call more than once.
func (h *Hub) Events() (<-chan *model.Identity, func()) {
	ch := make(chan *model.Identity, 8)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			for i, other := range h.listeners {
				if other == ch {
					h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SignIn announces an authenticated identity.
func (h *Hub) SignIn(ident model.Identity) {
	h.emit(&ident)
}

// SignOut announces the end of the session.
func (h *Hub) SignOut() {
	h.emit(nil)
}

func (h *Hub) emit(ident *model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ident:
		default:
		}
	}
}
