package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/poly1603/ldesign-engine-sub002/events"
	"github.com/poly1603/ldesign-engine-sub002/log"
	"github.com/poly1603/ldesign-engine-sub002/plugins"
)

// PluginState is the per-name installation state.
type PluginState string

const (
	// StateUnregistered means the name is unknown to the manager.
	StateUnregistered PluginState = "unregistered"
	// StateInstalling means an install is in flight.
	StateInstalling PluginState = "installing"
	// StateInstalled means the plugin is registered and operational.
	StateInstalled PluginState = "installed"
	// StateUninstalling means an uninstall is in flight.
	StateUninstalling PluginState = "uninstalling"
)

// PluginInfo is the manager's record of an installed plugin.
type PluginInfo struct {
	// Plugin is the installed instance.
	Plugin plugins.Plugin
	// Options are the install options the plugin received.
	Options map[string]any
	// InstallTime is when the install completed.
	InstallTime time.Time
}

// PluginManager owns plugin installation state: the registry of installed
// plugins, the install order, the dependents index and the per-name state
// machine unregistered -> installing -> installed -> uninstalling ->
// unregistered.
type PluginManager struct {
	engine *Engine

	registry cmap.ConcurrentMap[string, *PluginInfo]

	mu           sync.Mutex
	installOrder []string
	// dependents maps an installed plugin name to the installed plugins
	// that declared a dependency on it.
	dependents map[string][]string
	// installing and uninstalling are the reentrancy guards; installStack
	// additionally tracks nested install requests made from within a
	// plugin's Install call, so install-time cycles are distinguishable
	// from plain concurrent installs.
	installing   map[string]bool
	uninstalling map[string]bool
	installStack []string
}

func newPluginManager(e *Engine) *PluginManager {
	return &PluginManager{
		engine:       e,
		registry:     cmap.New[*PluginInfo](),
		dependents:   make(map[string][]string),
		installing:   make(map[string]bool),
		uninstalling: make(map[string]bool),
	}
}

// Has reports whether the named plugin is installed.
func (m *PluginManager) Has(name string) bool {
	return m.registry.Has(name)
}

// Get returns the installed plugin instance.
func (m *PluginManager) Get(name string) (plugins.Plugin, bool) {
	if info, ok := m.registry.Get(name); ok {
		return info.Plugin, true
	}
	return nil, false
}

// Info returns the full installation record of the named plugin.
func (m *PluginManager) Info(name string) (*PluginInfo, bool) {
	return m.registry.Get(name)
}

// Names returns the installed plugin names in install order.
func (m *PluginManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.installOrder...)
}

// State returns the per-name installation state.
func (m *PluginManager) State(name string) PluginState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.installing[name]:
		return StateInstalling
	case m.uninstalling[name]:
		return StateUninstalling
	case m.registry.Has(name):
		return StateInstalled
	}
	return StateUnregistered
}

// Dependents returns the installed plugins depending on name.
func (m *PluginManager) Dependents(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dependents[name]...)
}

// Install validates, installs and registers a single plugin. Required
// dependencies must already be installed: full ordering is the resolver's
// job (see Engine.UseAll); this check is a defensive guard for out-of-order
// callers. The engine error channel is notified before any failure
// propagates.
func (m *PluginManager) Install(ctx context.Context, p plugins.Plugin, opts *InstallOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &InstallOptions{}
	}

	if p == nil || p.Name() == "" {
		err := plugins.NewPluginError("", "install", "plugin must have a non-empty name", plugins.ErrInvalidPlugin)
		m.emitError("", "install", err)
		return err
	}
	name := p.Name()

	if err := m.beginInstall(name); err != nil {
		m.emitError(name, "install", err)
		return err
	}
	defer m.endInstall(name)

	if err := m.checkInstalledDeps(p); err != nil {
		m.emitError(name, "install", err)
		return err
	}

	m.engine.EmitEvent(events.EventPluginInstalling, map[string]any{"plugin": name})

	if err := m.invokeInstall(ctx, p, opts); err != nil {
		werr := plugins.NewPluginError(name, "install", "", err)
		m.emitError(name, "install", werr)
		return werr
	}

	m.finishInstall(p, opts)
	m.engine.EmitEvent(events.EventPluginInstalled, map[string]any{
		"plugin":  name,
		"version": p.Version(),
	})
	log.Infow("msg", "plugin installed", "plugin", name, "version", p.Version())
	return nil
}

// beginInstall transitions the name into the installing state, rejecting
// duplicates, concurrent installs and install-time cycles.
func (m *PluginManager) beginInstall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry.Has(name) {
		return plugins.NewPluginError(name, "install", "", plugins.ErrPluginAlreadyInstalled)
	}
	for _, pending := range m.installStack {
		if pending == name {
			cycle := append(append([]string(nil), m.installStack...), name)
			return plugins.NewPluginError(name, "install",
				fmt.Sprintf("install chain %s", strings.Join(cycle, " -> ")),
				plugins.ErrCircularInstall)
		}
	}
	if m.installing[name] {
		return plugins.NewPluginError(name, "install", "", plugins.ErrPluginInstallInFlight)
	}

	m.installing[name] = true
	m.installStack = append(m.installStack, name)
	return nil
}

func (m *PluginManager) endInstall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.installing, name)
	for i := len(m.installStack) - 1; i >= 0; i-- {
		if m.installStack[i] == name {
			m.installStack = append(m.installStack[:i], m.installStack[i+1:]...)
			break
		}
	}
}

// checkInstalledDeps verifies every active plain required dependency is
// already installed. This is a direct membership check, not a resolution;
// absent peer and optional dependencies never block an install.
func (m *PluginManager) checkInstalledDeps(p plugins.Plugin) error {
	aware, ok := p.(plugins.DependencyAware)
	if !ok {
		return nil
	}
	var missing []string
	for _, dep := range aware.Dependencies() {
		if dep.Type != plugins.DependencyRequired {
			continue
		}
		if dep.Condition != nil && !dep.Condition() {
			continue
		}
		if !m.registry.Has(dep.Name) {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		return plugins.NewPluginError(p.Name(), "install",
			fmt.Sprintf("dependencies not installed: %s", strings.Join(missing, ", ")),
			plugins.ErrMissingDependency)
	}
	return nil
}

// invokeInstall calls the plugin's Install, retrying with exponential
// backoff when a retry policy applies.
func (m *PluginManager) invokeInstall(ctx context.Context, p plugins.Plugin, opts *InstallOptions) error {
	policy := opts.Retry
	if policy == nil && m.engine.conf.Retry.MaxRetries > 0 {
		policy = &RetryPolicy{
			MaxRetries:      m.engine.conf.Retry.MaxRetries,
			InitialInterval: m.engine.conf.Retry.InitialInterval(),
		}
	}

	attempt := func() error {
		return m.invokeGuarded(func() error {
			return p.Install(ctx, m.engine, opts.Options)
		})
	}

	if policy == nil || policy.MaxRetries == 0 {
		return attempt()
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	return backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(bo, policy.MaxRetries), ctx))
}

// invokeGuarded contains panics from plugin code.
func (m *PluginManager) invokeGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// finishInstall registers the plugin and updates the dependents index.
func (m *PluginManager) finishInstall(p plugins.Plugin, opts *InstallOptions) {
	name := p.Name()
	m.registry.Set(name, &PluginInfo{
		Plugin:      p,
		Options:     opts.Options,
		InstallTime: time.Now(),
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.installOrder = append(m.installOrder, name)
	if aware, ok := p.(plugins.DependencyAware); ok {
		for _, dep := range aware.Dependencies() {
			if dep.Condition != nil && !dep.Condition() {
				continue
			}
			if m.registry.Has(dep.Name) {
				m.dependents[dep.Name] = append(m.dependents[dep.Name], name)
			}
		}
	}
}

// Uninstall removes the named plugin. It refuses while other installed
// plugins depend on it; the blocking dependents are listed in the error.
func (m *PluginManager) Uninstall(ctx context.Context, name string) error {
	return m.uninstall(ctx, name, false)
}

func (m *PluginManager) uninstall(ctx context.Context, name string, force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.beginUninstall(name, force); err != nil {
		m.emitError(name, "uninstall", err)
		return err
	}
	defer m.endUninstall(name)

	info, ok := m.registry.Get(name)
	if !ok {
		err := plugins.NewPluginError(name, "uninstall", "", plugins.ErrPluginNotFound)
		m.emitError(name, "uninstall", err)
		return err
	}

	m.engine.EmitEvent(events.EventPluginUninstalling, map[string]any{"plugin": name})

	if u, ok := info.Plugin.(plugins.Uninstaller); ok {
		err := m.invokeGuarded(func() error { return u.Uninstall(ctx, m.engine) })
		if err != nil {
			werr := plugins.NewPluginError(name, "uninstall", "", err)
			m.emitError(name, "uninstall", werr)
			return werr
		}
	}

	m.removeRecord(name, info.Plugin)
	m.engine.EmitEvent(events.EventPluginUninstalled, map[string]any{"plugin": name})
	log.Infow("msg", "plugin uninstalled", "plugin", name)
	return nil
}

func (m *PluginManager) beginUninstall(name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uninstalling[name] {
		return plugins.NewPluginError(name, "uninstall", "", plugins.ErrPluginUninstallInFlight)
	}
	if !force {
		if deps := m.dependents[name]; len(deps) > 0 {
			return plugins.NewPluginError(name, "uninstall",
				fmt.Sprintf("still required by: %s", strings.Join(deps, ", ")),
				plugins.ErrHasDependents)
		}
	}
	m.uninstalling[name] = true
	return nil
}

func (m *PluginManager) endUninstall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uninstalling, name)
}

// removeRecord drops the plugin from the registry, the install order and
// both sides of the dependents index.
func (m *PluginManager) removeRecord(name string, p plugins.Plugin) {
	m.registry.Remove(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, n := range m.installOrder {
		if n == name {
			m.installOrder = append(m.installOrder[:i], m.installOrder[i+1:]...)
			break
		}
	}
	delete(m.dependents, name)
	if aware, ok := p.(plugins.DependencyAware); ok {
		for _, dep := range aware.Dependencies() {
			list := m.dependents[dep.Name]
			for i, n := range list {
				if n == name {
					m.dependents[dep.Name] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
}

// Clear uninstalls every plugin in reverse install order. Individual
// failures are logged and teardown continues, so cleanup is maximized.
func (m *PluginManager) Clear(ctx context.Context) {
	m.mu.Lock()
	order := append([]string(nil), m.installOrder...)
	m.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := m.uninstall(ctx, name, true); err != nil {
			log.Errorf("failed to uninstall plugin %s during teardown: %v", name, err)
		}
	}
}

// emitError notifies the engine event channel before an error propagates to
// the caller.
func (m *PluginManager) emitError(name, operation string, err error) {
	m.engine.EmitEvent(events.EventPluginError, map[string]any{
		"plugin":    name,
		"operation": operation,
		"error":     err.Error(),
	})
}
