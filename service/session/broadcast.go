package session

import (
	"sync"
)

// Subscription receives state views. Only the latest undelivered view is kept,
// so a slow reader skips intermediate states rather than blocking the machine.
type Subscription struct {
	C <-chan View

	ch   chan View
	hub  *hub
	once sync.Once
}

// Close releases the subscription slot.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

type hub struct {
	mu   sync.Mutex
	max  int
	subs map[*Subscription]struct{}
}

func newHub(max int) *hub {
	return &hub{max: max, subs: make(map[*Subscription]struct{})}
}

func (h *hub) add(initial View) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) >= h.max {
		return nil, ErrTooManySubscribers
	}
	ch := make(chan View, 1)
	ch <- initial
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.subs[s] = struct{}{}
	return s, nil
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publish replaces each subscriber's buffered view with v. Callers serialize
// publish so that drain-then-send never races another producer.
func (h *hub) publish(v View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- v:
		default:
		}
	}
}
