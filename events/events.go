// Package events implements the engine event bus: a synchronous,
// priority-ordered publish/subscribe channel used by the engine and its
// managers for diagnostics and error reporting.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Engine lifecycle and orchestration event types.
const (
	// EventPluginInstalling indicates a plugin install has started.
	EventPluginInstalling = "plugin.installing"
	// EventPluginInstalled indicates a plugin install completed.
	EventPluginInstalled = "plugin.installed"
	// EventPluginUninstalling indicates a plugin uninstall has started.
	EventPluginUninstalling = "plugin.uninstalling"
	// EventPluginUninstalled indicates a plugin uninstall completed.
	EventPluginUninstalled = "plugin.uninstalled"
	// EventPluginError indicates a plugin operation failed.
	EventPluginError = "plugin.error"

	// EventMiddlewareError indicates a middleware threw during chain execution.
	EventMiddlewareError = "middleware.error"

	// EventPhaseStarted indicates a lifecycle phase began executing.
	EventPhaseStarted = "lifecycle.phase.started"
	// EventPhaseCompleted indicates a lifecycle phase finished.
	EventPhaseCompleted = "lifecycle.phase.completed"
	// EventHookError indicates a lifecycle hook failed.
	EventHookError = "lifecycle.hook.error"

	// EventEngineMounted indicates the engine completed its mount sequence.
	EventEngineMounted = "engine.mounted"
	// EventEngineUnmounted indicates the engine completed its unmount sequence.
	EventEngineUnmounted = "engine.unmounted"
	// EventEngineDestroyed indicates the engine was torn down.
	EventEngineDestroyed = "engine.destroyed"
	// EventEngineError indicates an engine-level operational error.
	EventEngineError = "engine.error"
)

// Event is a single occurrence published on the bus.
type Event struct {
	// Type identifies the event kind, one of the Event* constants or an
	// application-defined type.
	Type string
	// Source names the component that published the event.
	Source string
	// PluginName identifies the plugin involved, if any.
	PluginName string
	// Error carries the failure for error events.
	Error error
	// Metadata holds additional structured payload.
	Metadata map[string]any
	// Timestamp is the publication time.
	Timestamp time.Time
}

// Handler consumes a published event. Handlers run synchronously on the
// publisher's goroutine, in descending listener priority.
type Handler func(Event)

type listener struct {
	id       uint64
	types    map[string]bool // nil matches every type
	priority int
	handler  Handler
}

// Bus is a synchronous event bus with priority-ordered listeners and a
// bounded delivery history. The zero value is not usable; use NewBus.
type Bus struct {
	mu        sync.RWMutex
	listeners []listener // kept sorted by descending priority
	history   *History
	nextID    uint64
	closed    atomic.Bool
}

// NewBus creates a bus whose history retains up to capacity events.
func NewBus(capacity int) *Bus {
	return &Bus{history: NewHistory(capacity)}
}

// Subscribe registers a handler for every event type. It returns an
// unsubscribe function.
func (b *Bus) Subscribe(priority int, handler Handler) func() {
	return b.subscribe(nil, priority, handler)
}

// SubscribeTo registers a handler for the given event types only.
func (b *Bus) SubscribeTo(types []string, priority int, handler Handler) func() {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return b.subscribe(set, priority, handler)
}

func (b *Bus) subscribe(types map[string]bool, priority int, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	l := listener{id: b.nextID, types: types, priority: priority, handler: handler}
	// Stable insertion point: before the first listener with a strictly
	// lower priority, so equal priorities keep registration order.
	idx := len(b.listeners)
	for i, existing := range b.listeners {
		if existing.priority < priority {
			idx = i
			break
		}
	}
	b.listeners = append(b.listeners, listener{})
	copy(b.listeners[idx+1:], b.listeners[idx:])
	b.listeners[idx] = l
	b.mu.Unlock()

	id := l.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to matching listeners in priority order and
// records it in the history. A panicking handler is contained so sibling
// listeners still run.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.history.Add(event)

	b.mu.RLock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, l := range snapshot {
		if l.types != nil && !l.types[event.Type] {
			continue
		}
		invokeHandler(l.handler, event)
	}
}

func invokeHandler(h Handler, event Event) {
	defer func() {
		// A misbehaving listener must not break event delivery.
		_ = recover()
	}()
	h(event)
}

// History returns the bus delivery history.
func (b *Bus) History() *History {
	return b.history
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close stops delivery. Subsequent Publish calls are dropped.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.mu.Lock()
	b.listeners = nil
	b.mu.Unlock()
}
