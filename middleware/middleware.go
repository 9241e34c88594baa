// Package middleware implements the engine's named middleware pipelines:
// per-hook, priority-ordered chains executed with chain-of-responsibility
// semantics and explicit continuation.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/poly1603/ldesign-engine-sub002/events"
	"github.com/poly1603/ldesign-engine-sub002/log"
)

// ErrReentrantExecution is returned when Execute is called for a hook that
// already has a chain in flight. Rejecting instead of queueing prevents
// unbounded recursive dispatch.
var ErrReentrantExecution = errors.New("middleware chain already executing for hook")

// ErrNilMiddleware is returned when a nil middleware function is registered.
var ErrNilMiddleware = errors.New("middleware function must not be nil")

// Next advances the chain to the following middleware. A middleware that
// never calls it truncates the remainder of the chain.
type Next func() error

// Func is a single middleware. It receives the execution context and the
// continuation for the rest of the chain.
type Func func(ctx *Context, next Next) error

// Emitter is the engine surface middleware contexts expose for error
// reporting. The engine package implements it.
type Emitter interface {
	EmitEvent(eventType string, metadata map[string]any)
}

// Context carries per-execution state through a middleware chain.
type Context struct {
	// Ctx is the caller's context, propagated through the chain.
	Ctx context.Context
	// Hook names the chain being executed.
	Hook string
	// Engine is the owning engine's event surface; may be nil in tests.
	Engine Emitter
	// Data is a free-form payload shared by the chain.
	Data map[string]any
}

// Entry is a registered middleware with its ordering metadata.
type Entry struct {
	id       uint64
	fn       Func
	priority int
	name     string
	once     bool
}

// Name returns the middleware's registered name, empty for anonymous entries.
func (e Entry) Name() string { return e.name }

// Priority returns the middleware's priority.
func (e Entry) Priority() int { return e.priority }

// Once reports whether the middleware is removed after one execution.
func (e Entry) Once() bool { return e.once }

// Options configures a middleware registration.
type Options struct {
	// Priority orders the chain; higher runs earlier. Default 0.
	Priority int
	// Name identifies the middleware in errors and diagnostics.
	Name string
	// Once removes the middleware after the next completed chain run.
	Once bool
}

// Error wraps a failure inside a middleware with its chain identity.
type Error struct {
	// Hook names the chain the failure occurred in.
	Hook string
	// Middleware is the failing middleware's name, or "anonymous".
	Middleware string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("middleware %s in hook %s: %v", e.Middleware, e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Manager maintains per-hook middleware chains. All methods are safe for
// concurrent use; concurrent Execute calls for distinct hooks proceed
// independently, while a second call for an in-flight hook is rejected.
type Manager struct {
	mu        sync.Mutex
	chains    map[string][]Entry
	executing map[string]bool
	nextID    uint64
}

// NewManager creates an empty middleware manager.
func NewManager() *Manager {
	return &Manager{
		chains:    make(map[string][]Entry),
		executing: make(map[string]bool),
	}
}

// Add registers fn on the named hook. Entries are kept sorted by descending
// priority; the insertion point is before the first entry whose priority is
// strictly lower, so equal priorities preserve registration order. The
// returned id can be passed to Remove.
func (m *Manager) Add(hook string, fn Func, opts Options) (uint64, error) {
	if fn == nil {
		return 0, ErrNilMiddleware
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entry := Entry{
		id:       m.nextID,
		fn:       fn,
		priority: opts.Priority,
		name:     opts.Name,
		once:     opts.Once,
	}

	chain := m.chains[hook]
	idx := len(chain)
	for i, existing := range chain {
		if existing.priority < entry.priority {
			idx = i
			break
		}
	}
	chain = append(chain, Entry{})
	copy(chain[idx+1:], chain[idx:])
	chain[idx] = entry
	m.chains[hook] = chain

	return entry.id, nil
}

// Remove deletes the middleware registered under id from the named hook.
// The hook's bucket is dropped entirely once emptied. It reports whether an
// entry was removed.
func (m *Manager) Remove(hook string, id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(hook, id)
}

func (m *Manager) removeLocked(hook string, id uint64) bool {
	chain, ok := m.chains[hook]
	if !ok {
		return false
	}
	for i, entry := range chain {
		if entry.id == id {
			chain = append(chain[:i], chain[i+1:]...)
			if len(chain) == 0 {
				delete(m.chains, hook)
			} else {
				m.chains[hook] = chain
			}
			return true
		}
	}
	return false
}

// Middlewares returns the entries registered on the hook, in execution order.
func (m *Manager) Middlewares(hook string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.chains[hook]...)
}

// Hooks returns the names of hooks with at least one registered middleware.
func (m *Manager) Hooks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.chains))
	for name := range m.chains {
		names = append(names, name)
	}
	return names
}

// Execute runs the named hook's chain against mc. Middleware run strictly
// sequentially in descending priority; each receives the context and a
// continuation, and a middleware that does not call next truncates the
// chain. One-shot entries are deleted only after the full chain completes.
//
// A second Execute for the same hook while one is in flight returns
// ErrReentrantExecution. The in-flight flag is always cleared, whatever the
// chain's outcome.
func (m *Manager) Execute(ctx context.Context, hook string, mc *Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if mc == nil {
		mc = &Context{}
	}
	mc.Ctx = ctx
	mc.Hook = hook

	m.mu.Lock()
	if m.executing[hook] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReentrantExecution, hook)
	}
	m.executing[hook] = true
	chain := append([]Entry(nil), m.chains[hook]...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.executing, hook)
		m.mu.Unlock()
	}()

	var onceDone []uint64
	defer func() {
		if len(onceDone) == 0 {
			return
		}
		m.mu.Lock()
		for _, id := range onceDone {
			m.removeLocked(hook, id)
		}
		m.mu.Unlock()
	}()

	cursor := 0
	var advance Next
	advance = func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cursor >= len(chain) {
			return nil
		}
		entry := chain[cursor]
		cursor++
		if entry.once {
			onceDone = append(onceDone, entry.id)
		}
		if err := m.invoke(entry, mc, advance); err != nil {
			return err
		}
		return nil
	}

	return advance()
}

// invoke runs a single middleware, converting panics and errors into a
// wrapped Error and reporting it on the context's engine event channel.
func (m *Manager) invoke(entry Entry, mc *Context, next Next) (err error) {
	name := entry.name
	if name == "" {
		name = "anonymous"
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		// An error already wrapped deeper in the chain is only propagated;
		// wrapping and reporting happen once, at the failing middleware.
		// Context cancellation is not a middleware failure.
		var werr *Error
		if errors.As(err, &werr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		err = &Error{Hook: mc.Hook, Middleware: name, Err: err}
		log.Errorw("msg", "middleware execution failed", "hook", mc.Hook, "middleware", name, "error", err)
		if mc.Engine != nil {
			mc.Engine.EmitEvent(events.EventMiddlewareError, map[string]any{
				"hook":       mc.Hook,
				"middleware": name,
				"error":      err.Error(),
			})
		}
	}()

	return entry.fn(mc, next)
}
