package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryHub is an in-process broadcaster for tests and single-node runs.
// Subscribers receive on buffered channels; a full channel drops the
// message rather than blocking the publisher.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID][]chan Message
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uuid.UUID][]chan Message),
	}
}

// Subscribe returns a channel of events for one room.
func (h *MemoryHub) Subscribe(roomID uuid.UUID, buf int) <-chan Message {
	ch := make(chan Message, buf)
	h.mu.Lock()
	h.subs[roomID] = append(h.subs[roomID], ch)
	h.mu.Unlock()
	return ch
}

func (h *MemoryHub) Publish(roomID uuid.UUID, event string, payload interface{}) {
	h.mu.RLock()
	subs := h.subs[roomID]
	h.mu.RUnlock()

	msg := Message{RoomID: roomID, Event: event, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than stall the caller.
		}
	}
}
