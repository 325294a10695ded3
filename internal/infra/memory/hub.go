package memory

import (
	"context"
	"sync"

	"trivia-room-service/internal/domain"
)

const subscriberBuffer = 32

// Hub fans events out to in-process subscribers by channel name.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Event]struct{})}
}

// Subscribe returns one stream for all the given channels. The caller must
// invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(channels ...string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	for _, name := range channels {
		set, ok := h.subs[name]
		if !ok {
			set = make(map[chan domain.Event]struct{})
			h.subs[name] = set
		}
		set[ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			for _, name := range channels {
				if set, ok := h.subs[name]; ok {
					delete(set, ch)
					if len(set) == 0 {
						delete(h.subs, name)
					}
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish never blocks: a full subscriber loses its oldest pending event.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.Channel] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Subscribers reports how many streams listen on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
