// Package engine provides the composition root of the LDesign engine. An
// Engine wires the dependency resolver, the plugin manager, the middleware
// pipelines and the lifecycle hook registry together, exposes them to
// installed plugins and drives the mount/unmount/destroy phase transitions.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	klog "github.com/go-kratos/kratos/v2/log"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/poly1603/ldesign-engine-sub002/conf"
	"github.com/poly1603/ldesign-engine-sub002/events"
	"github.com/poly1603/ldesign-engine-sub002/lifecycle"
	"github.com/poly1603/ldesign-engine-sub002/log"
	"github.com/poly1603/ldesign-engine-sub002/metrics"
	"github.com/poly1603/ldesign-engine-sub002/middleware"
	"github.com/poly1603/ldesign-engine-sub002/plugins"
)

// Status is the engine's coarse lifecycle state.
type Status int32

const (
	// StatusCreated is the state after New, before Mount.
	StatusCreated Status = iota
	// StatusMounted means the mount phase sequence completed.
	StatusMounted
	// StatusUnmounted means the engine was unmounted and may be destroyed.
	StatusUnmounted
	// StatusDestroyed is terminal; all plugins have been uninstalled.
	StatusDestroyed
)

// String renders the status for logs.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusMounted:
		return "mounted"
	case StatusUnmounted:
		return "unmounted"
	case StatusDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Option customizes engine construction.
type Option func(*Engine)

// WithConfig installs a full configuration. The default is conf.Default().
func WithConfig(c *conf.Engine) Option {
	return func(e *Engine) {
		if c != nil {
			e.conf = c
		}
	}
}

// WithLogger installs the base logger used by the engine and handed to
// plugins.
func WithLogger(logger klog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the orchestration core. It implements plugins.Runtime, the
// surface plugins receive during install and uninstall.
type Engine struct {
	conf   *conf.Engine
	logger klog.Logger

	bus        *events.Bus
	resolver   *plugins.Resolver
	middleware *middleware.Manager
	lifecycle  *lifecycle.Manager
	manager    *PluginManager
	metrics    *metrics.Metrics

	state  cmap.ConcurrentMap[string, any]
	status atomic.Int32
}

// New constructs an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		conf:  conf.Default(),
		state: cmap.New[any](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.GetLogger()
	}

	e.bus = events.NewBus(e.conf.HistoryCapacity)
	e.resolver = plugins.NewResolver()
	e.middleware = middleware.NewManager()
	e.lifecycle = lifecycle.NewManager(e.conf.HistoryCapacity)
	if len(e.conf.CriticalPhases) > 0 {
		e.lifecycle.SetCritical(e.conf.CriticalPhases...)
	}
	e.metrics = metrics.New()
	e.manager = newPluginManager(e)

	switch e.conf.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	}

	return e
}

// Name returns the engine instance name.
func (e *Engine) Name() string { return e.conf.Name }

// Logger returns the engine logger.
func (e *Engine) Logger() klog.Logger { return e.logger }

// Config returns the engine configuration.
func (e *Engine) Config() *conf.Engine { return e.conf }

// Status returns the engine's current lifecycle state.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

// Events returns the engine event bus.
func (e *Engine) Events() *events.Bus { return e.bus }

// Middleware returns the middleware manager.
func (e *Engine) Middleware() *middleware.Manager { return e.middleware }

// Lifecycle returns the lifecycle manager.
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }

// Resolver returns the dependency resolver.
func (e *Engine) Resolver() *plugins.Resolver { return e.resolver }

// Metrics returns the engine's prometheus collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Plugins returns the plugin manager.
func (e *Engine) Plugins() *PluginManager { return e.manager }

// EmitEvent publishes an event on the engine bus. It implements the event
// surface expected by middleware contexts, lifecycle hooks and plugins.
func (e *Engine) EmitEvent(eventType string, metadata map[string]any) {
	evt := events.Event{
		Type:     eventType,
		Source:   e.conf.Name,
		Metadata: metadata,
	}
	if metadata != nil {
		if name, ok := metadata["plugin"].(string); ok {
			evt.PluginName = name
		}
	}
	e.bus.Publish(evt)
}

// SetState stores a value in the engine's shared state bag.
func (e *Engine) SetState(key string, value any) {
	e.state.Set(key, value)
}

// GetState reads a value from the shared state bag.
func (e *Engine) GetState(key string) (any, bool) {
	return e.state.Get(key)
}

// HasPlugin reports whether a plugin name is currently installed.
func (e *Engine) HasPlugin(name string) bool {
	return e.manager.Has(name)
}

// Use installs a single plugin. Callers installing plugin sets should prefer
// UseAll, which computes a safe order first.
func (e *Engine) Use(ctx context.Context, p plugins.Plugin, opts *InstallOptions) error {
	err := e.manager.Install(ctx, p, opts)
	e.metrics.RecordPluginOp("install", err)
	return err
}

// Unuse uninstalls the named plugin. It fails while other installed plugins
// depend on it.
func (e *Engine) Unuse(ctx context.Context, name string) error {
	err := e.manager.Uninstall(ctx, name)
	e.metrics.RecordPluginOp("uninstall", err)
	return err
}

// ExecuteHook runs the named middleware chain with the given payload.
func (e *Engine) ExecuteHook(ctx context.Context, hook string, data map[string]any) error {
	err := e.middleware.Execute(ctx, hook, &middleware.Context{Engine: e, Data: data})
	e.metrics.RecordMiddleware(hook, err)
	return err
}

// firePhase runs one lifecycle phase and records its metrics.
func (e *Engine) firePhase(ctx context.Context, phase string, data map[string]any) (lifecycle.Event, error) {
	e.EmitEvent(events.EventPhaseStarted, map[string]any{"phase": phase})
	event, err := e.lifecycle.Execute(ctx, phase, e, data)
	e.metrics.ObservePhase(phase, event.Duration, !event.Success)
	e.EmitEvent(events.EventPhaseCompleted, map[string]any{
		"phase":          phase,
		"success":        event.Success,
		"hooks_executed": event.HooksExecuted,
	})
	return event, err
}

// Mount drives the engine's startup phase sequence: init, beforeMount,
// mount, mounted. The init and mount phases are critical; a hook failure
// there aborts the transition and leaves the engine in its prior state.
func (e *Engine) Mount(ctx context.Context, data map[string]any) error {
	prior := e.status.Load()
	if !e.status.CompareAndSwap(int32(StatusCreated), int32(StatusMounted)) &&
		!e.status.CompareAndSwap(int32(StatusUnmounted), int32(StatusMounted)) {
		return fmt.Errorf("engine %s cannot mount from status %s", e.conf.Name, e.Status())
	}

	start := time.Now()
	for _, phase := range []string{
		lifecycle.PhaseInit,
		lifecycle.PhaseBeforeMount,
		lifecycle.PhaseMount,
		lifecycle.PhaseMounted,
	} {
		if _, err := e.firePhase(ctx, phase, data); err != nil {
			e.status.Store(prior)
			e.EmitEvent(events.EventEngineError, map[string]any{"phase": phase, "error": err.Error()})
			return fmt.Errorf("mount aborted in phase %s: %w", phase, err)
		}
	}

	log.Infow("msg", "engine mounted", "engine", e.conf.Name, "took", time.Since(start).String())
	e.EmitEvent(events.EventEngineMounted, nil)
	return nil
}

// Unmount drives the beforeUnmount and unmounted phases. Both are
// non-critical: hooks run best-effort and the transition always completes.
func (e *Engine) Unmount(ctx context.Context, data map[string]any) error {
	if !e.status.CompareAndSwap(int32(StatusMounted), int32(StatusUnmounted)) {
		return fmt.Errorf("engine %s cannot unmount from status %s", e.conf.Name, e.Status())
	}

	for _, phase := range []string{lifecycle.PhaseBeforeUnmount, lifecycle.PhaseUnmounted} {
		if _, err := e.firePhase(ctx, phase, data); err != nil {
			// Unmount phases are non-critical by default; an error here
			// means someone reconfigured them. Log and keep going.
			log.Warnf("unmount phase %s failed: %v", phase, err)
		}
	}

	e.EmitEvent(events.EventEngineUnmounted, nil)
	return nil
}

// Destroy tears the engine down: it unmounts if needed, runs the
// beforeDestroy and destroy phases, uninstalls every plugin in reverse
// install order and fires the destroyed phase. Teardown is best-effort past
// the destroy phase; individual failures are logged and do not stop it.
func (e *Engine) Destroy(ctx context.Context, data map[string]any) error {
	if e.Status() == StatusMounted {
		if err := e.Unmount(ctx, data); err != nil {
			log.Warnf("unmount during destroy failed: %v", err)
		}
	}
	if !e.status.CompareAndSwap(int32(StatusCreated), int32(StatusDestroyed)) &&
		!e.status.CompareAndSwap(int32(StatusUnmounted), int32(StatusDestroyed)) {
		return fmt.Errorf("engine %s cannot destroy from status %s", e.conf.Name, e.Status())
	}

	if _, err := e.firePhase(ctx, lifecycle.PhaseBeforeDestroy, data); err != nil {
		log.Warnf("beforeDestroy phase failed: %v", err)
	}
	if _, err := e.firePhase(ctx, lifecycle.PhaseDestroy, data); err != nil {
		e.EmitEvent(events.EventEngineError, map[string]any{"phase": lifecycle.PhaseDestroy, "error": err.Error()})
		return fmt.Errorf("destroy aborted in phase %s: %w", lifecycle.PhaseDestroy, err)
	}

	e.manager.Clear(ctx)

	if _, err := e.firePhase(ctx, lifecycle.PhaseDestroyed, data); err != nil {
		log.Warnf("destroyed phase failed: %v", err)
	}

	e.lifecycle.OffAll("")
	e.EmitEvent(events.EventEngineDestroyed, nil)
	e.bus.Close()
	log.Infow("msg", "engine destroyed", "engine", e.conf.Name)
	return nil
}
