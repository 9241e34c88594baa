package events

import "sync"

// DefaultHistoryCapacity bounds the event history when no capacity is given.
const DefaultHistoryCapacity = 50

// History is a bounded ring of delivered events. When full, the oldest
// entry is evicted first.
type History struct {
	mu       sync.RWMutex
	entries  []Event
	capacity int
	start    int
	count    int
}

// NewHistory creates a history retaining up to capacity events. A
// non-positive capacity falls back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		entries:  make([]Event, capacity),
		capacity: capacity,
	}
}

// Add appends an event, evicting the oldest entry when the ring is full.
func (h *History) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < h.capacity {
		h.entries[(h.start+h.count)%h.capacity] = event
		h.count++
		return
	}
	h.entries[h.start] = event
	h.start = (h.start + 1) % h.capacity
}

// All returns the retained events, oldest first.
func (h *History) All() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(h.start+i)%h.capacity])
	}
	return out
}

// Last returns the most recent event and whether one exists.
func (h *History) Last() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return Event{}, false
	}
	return h.entries[(h.start+h.count-1)%h.capacity], true
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Capacity returns the maximum number of retained events.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear drops all retained events.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start, h.count = 0, 0
}
