// Package lifecycle implements the engine's phased lifecycle hook registry:
// per-phase, priority-ordered hooks with one-shot support, critical-phase
// fail-fast semantics and a bounded execution history.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/poly1603/ldesign-engine-sub002/events"
	"github.com/poly1603/ldesign-engine-sub002/log"
)

// Well-known engine phases.
const (
	PhaseInit          = "init"
	PhaseBeforeMount   = "beforeMount"
	PhaseMount         = "mount"
	PhaseMounted       = "mounted"
	PhaseBeforeUnmount = "beforeUnmount"
	PhaseUnmounted     = "unmounted"
	PhaseBeforeDestroy = "beforeDestroy"
	PhaseDestroy       = "destroy"
	PhaseDestroyed     = "destroyed"
)

// ErrNilHook is returned when a nil hook function is registered.
var ErrNilHook = errors.New("lifecycle hook must not be nil")

// Hook is a function registered against a phase.
type Hook func(ctx *Context) error

// Emitter is the engine surface exposed to hooks and used for error
// reporting. The engine package implements it.
type Emitter interface {
	EmitEvent(eventType string, metadata map[string]any)
}

// Context is passed to every hook invocation.
type Context struct {
	// Ctx is the caller's context.
	Ctx context.Context
	// Phase being executed.
	Phase string
	// Timestamp of the phase execution start.
	Timestamp time.Time
	// Engine is the owning engine's event surface; may be nil in tests.
	Engine Emitter
	// Data is the caller-supplied payload, may be nil.
	Data map[string]any
}

// HookInfo describes a registered hook.
type HookInfo struct {
	// ID is the opaque registration id used for targeted removal.
	ID string
	// Phase the hook is registered against.
	Phase string
	// Priority orders execution; higher runs earlier.
	Priority int
	// Once marks the hook for removal after its first successful run.
	Once bool
	// RegisteredAt is the registration time.
	RegisteredAt time.Time

	hook Hook
}

// Event records one phase execution, appended to the manager's bounded
// history.
type Event struct {
	// Phase that was executed.
	Phase string
	// Timestamp of the execution start.
	Timestamp time.Time
	// Duration of the full phase run.
	Duration time.Duration
	// Success is false when any hook failed.
	Success bool
	// Err is the first hook failure, nil on success.
	Err error
	// HooksExecuted counts hooks that completed successfully.
	HooksExecuted int
}

// ErrorCallback observes hook failures. Callbacks run synchronously in
// registration order; a panicking callback cannot abort phase execution.
type ErrorCallback func(phase, hookID string, err error)

// Manager maintains per-phase hook lists and executes them. All methods are
// safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	phases map[string][]*HookInfo
	// byID maps hook id to phase for O(1) targeted removal.
	byID     cmap.ConcurrentMap[string, string]
	critical map[string]bool
	history  *History
	nextID   uint64

	cbMu      sync.Mutex
	callbacks []ErrorCallback
}

// NewManager creates a lifecycle manager whose history retains up to
// historyCapacity events. The init, mount and destroy phases are critical by
// default.
func NewManager(historyCapacity int) *Manager {
	return &Manager{
		phases: make(map[string][]*HookInfo),
		byID:   cmap.New[string](),
		critical: map[string]bool{
			PhaseInit:    true,
			PhaseMount:   true,
			PhaseDestroy: true,
		},
		history: NewHistory(historyCapacity),
	}
}

// SetCritical overrides the set of critical phases. A hook failure in a
// critical phase skips the phase's remaining hooks; non-critical phases run
// best-effort fan-out.
func (m *Manager) SetCritical(phases ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critical = make(map[string]bool, len(phases))
	for _, p := range phases {
		m.critical[p] = true
	}
}

// IsCritical reports whether the phase fails fast on hook errors.
func (m *Manager) IsCritical(phase string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.critical[phase]
}

// On registers a hook for the phase and returns its removal id. Hooks run in
// descending priority; ties keep registration order.
func (m *Manager) On(phase string, hook Hook, priority int) (string, error) {
	return m.register(phase, hook, priority, false)
}

// Once registers a one-shot hook: it is removed immediately after its first
// successful invocation.
func (m *Manager) Once(phase string, hook Hook, priority int) (string, error) {
	return m.register(phase, hook, priority, true)
}

func (m *Manager) register(phase string, hook Hook, priority int, once bool) (string, error) {
	if hook == nil {
		return "", ErrNilHook
	}
	if phase == "" {
		return "", fmt.Errorf("phase name must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	info := &HookInfo{
		ID:           fmt.Sprintf("hook-%d", m.nextID),
		Phase:        phase,
		Priority:     priority,
		Once:         once,
		RegisteredAt: time.Now(),
		hook:         hook,
	}

	list := m.phases[phase]
	idx := len(list)
	for i, existing := range list {
		if existing.Priority < priority {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = info
	m.phases[phase] = list

	m.byID.Set(info.ID, phase)
	return info.ID, nil
}

// Off removes the hook registered under id. It reports whether a hook was
// removed.
func (m *Manager) Off(id string) bool {
	phase, ok := m.byID.Get(id)
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(phase, id)
}

func (m *Manager) removeLocked(phase, id string) bool {
	list := m.phases[phase]
	for i, info := range list {
		if info.ID == id {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(m.phases, phase)
			} else {
				m.phases[phase] = list
			}
			m.byID.Remove(id)
			return true
		}
	}
	return false
}

// OffAll removes every hook for the phase, or every hook of every phase when
// phase is empty. It returns the number of removed hooks.
func (m *Manager) OffAll(phase string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	if phase == "" {
		for _, list := range m.phases {
			for _, info := range list {
				m.byID.Remove(info.ID)
			}
			removed += len(list)
		}
		m.phases = make(map[string][]*HookInfo)
		return removed
	}

	for _, info := range m.phases[phase] {
		m.byID.Remove(info.ID)
		removed++
	}
	delete(m.phases, phase)
	return removed
}

// Hooks returns the phase's registered hooks in execution order.
func (m *Manager) Hooks(phase string) []HookInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HookInfo, 0, len(m.phases[phase]))
	for _, info := range m.phases[phase] {
		out = append(out, *info)
	}
	return out
}

// OnError registers a callback invoked for every hook failure.
func (m *Manager) OnError(cb ErrorCallback) {
	if cb == nil {
		return
	}
	m.cbMu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.cbMu.Unlock()
}

// Execute runs the phase's hooks in descending priority order, strictly
// sequentially. In a critical phase the first failing hook aborts the
// remainder; elsewhere failures are reported and siblings still run. The
// produced Event is appended to the history and returned. The returned error
// is non-nil only when a critical phase was aborted.
func (m *Manager) Execute(ctx context.Context, phase string, engine Emitter, data map[string]any) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	hooks := append([]*HookInfo(nil), m.phases[phase]...)
	critical := m.critical[phase]
	m.mu.Unlock()

	start := time.Now()
	hookCtx := &Context{
		Ctx:       ctx,
		Phase:     phase,
		Timestamp: start,
		Engine:    engine,
		Data:      data,
	}

	event := Event{Phase: phase, Timestamp: start, Success: true}

	for _, info := range hooks {
		if err := ctx.Err(); err != nil {
			event.Success = false
			if event.Err == nil {
				event.Err = err
			}
			break
		}

		err := m.invoke(info, hookCtx)
		if err == nil {
			event.HooksExecuted++
			if info.Once {
				m.mu.Lock()
				m.removeLocked(phase, info.ID)
				m.mu.Unlock()
			}
			continue
		}

		event.Success = false
		if event.Err == nil {
			event.Err = err
		}
		m.reportHookError(phase, info.ID, err, engine)

		if critical {
			log.Warnf("critical phase %s aborted by hook %s: %v", phase, info.ID, err)
			break
		}
		log.Warnf("phase %s hook %s failed, continuing: %v", phase, info.ID, err)
	}

	event.Duration = time.Since(start)
	m.history.Add(event)

	if critical && event.Err != nil {
		return event, fmt.Errorf("critical phase %s failed: %w", phase, event.Err)
	}
	return event, nil
}

// ExecuteSync runs the phase without caller-provided cancellation.
func (m *Manager) ExecuteSync(phase string, engine Emitter, data map[string]any) (Event, error) {
	return m.Execute(context.Background(), phase, engine, data)
}

// invoke runs one hook with panic containment.
func (m *Manager) invoke(info *HookInfo, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in hook %s: %v", info.ID, r)
		}
	}()
	return info.hook(ctx)
}

// reportHookError fans the failure out to error callbacks and the engine
// event channel. Callback panics are contained so the phase keeps its
// documented semantics.
func (m *Manager) reportHookError(phase, hookID string, err error, engine Emitter) {
	m.cbMu.Lock()
	callbacks := append([]ErrorCallback(nil), m.callbacks...)
	m.cbMu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() { _ = recover() }()
			cb(phase, hookID, err)
		}()
	}

	if engine != nil {
		engine.EmitEvent(events.EventHookError, map[string]any{
			"phase":   phase,
			"hook_id": hookID,
			"error":   err.Error(),
		})
	}
}

// History returns the bounded execution history.
func (m *Manager) History() []Event {
	return m.history.All()
}

// LastEvent returns the most recent execution event.
func (m *Manager) LastEvent() (Event, bool) {
	return m.history.Last()
}
