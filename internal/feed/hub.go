package feed

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ent0n29/txlens/internal/protocol"
)

// Hub fans presentation events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]chan any
	lastState *protocol.SessionState
	buffer    int
	onDrop    func(t protocol.MessageType)
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]chan any), buffer: buffer}
}

// SetDropHook registers a callback for events dropped on a full subscriber.
func (h *Hub) SetDropHook(hook func(t protocol.MessageType)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = hook
}

// Subscribe returns a stream primed with the latest session state, and a
// cancel func that closes it.
func (h *Hub) Subscribe() (<-chan any, func()) {
	id := uuid.NewString()
	ch := make(chan any, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	if h.lastState != nil {
		ch <- *h.lastState
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	if st, ok := msg.(protocol.SessionState); ok {
		h.lastState = &st
	}
	hook := h.onDrop
	var dropped []protocol.MessageType
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			if t, ok := protocol.TypeOf(msg); ok {
				dropped = append(dropped, t)
			}
		}
	}
	h.mu.Unlock()

	if hook != nil {
		for _, t := range dropped {
			hook(t)
		}
	}
}

// Subscribers reports the number of attached streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
