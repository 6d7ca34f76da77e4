package tracker

import "sync"

// tickHub fans ticks out to subscribers without blocking the sender.
type tickHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Tick
}

func newTickHub() *tickHub {
	return &tickHub{subs: make(map[int]chan Tick)}
}

func (h *tickHub) subscribe() (<-chan Tick, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Tick, 16)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *tickHub) broadcast(t Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
