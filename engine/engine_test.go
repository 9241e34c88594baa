package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poly1603/ldesign-engine-sub002/conf"
	"github.com/poly1603/ldesign-engine-sub002/events"
	"github.com/poly1603/ldesign-engine-sub002/lifecycle"
	"github.com/poly1603/ldesign-engine-sub002/middleware"
	"github.com/poly1603/ldesign-engine-sub002/plugins"
)

// fakePlugin is a configurable plugin for manager and engine tests.
type fakePlugin struct {
	name    string
	version string
	deps    []plugins.Dependency

	installFn    func(ctx context.Context, rt plugins.Runtime, opts map[string]any) error
	uninstallErr error

	mu         sync.Mutex
	installs   int
	uninstalls int
	sink       *[]string // records uninstall order when set
}

func (p *fakePlugin) Name() string    { return p.name }
func (p *fakePlugin) Version() string { return p.version }

func (p *fakePlugin) Install(ctx context.Context, rt plugins.Runtime, opts map[string]any) error {
	p.mu.Lock()
	p.installs++
	p.mu.Unlock()
	if p.installFn != nil {
		return p.installFn(ctx, rt, opts)
	}
	return nil
}

func (p *fakePlugin) Uninstall(_ context.Context, _ plugins.Runtime) error {
	p.mu.Lock()
	p.uninstalls++
	if p.sink != nil {
		*p.sink = append(*p.sink, p.name)
	}
	p.mu.Unlock()
	return p.uninstallErr
}

func (p *fakePlugin) Dependencies() []plugins.Dependency { return p.deps }

func (p *fakePlugin) installCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs
}

func newFake(name, version string, deps ...plugins.Dependency) *fakePlugin {
	return &fakePlugin{name: name, version: version, deps: deps}
}

func TestNewDefaults(t *testing.T) {
	e := New()
	assert.Equal(t, "ldesign", e.Name())
	assert.Equal(t, StatusCreated, e.Status())
	assert.NotNil(t, e.Events())
	assert.NotNil(t, e.Middleware())
	assert.NotNil(t, e.Lifecycle())
	assert.NotNil(t, e.Resolver())
	assert.NotNil(t, e.Metrics())
	assert.NotNil(t, e.Logger())
	assert.Empty(t, e.Plugins().Names())
}

func TestUseAndState(t *testing.T) {
	e := New()
	ctx := context.Background()
	p := newFake("router", "1.0.0")

	assert.Equal(t, StateUnregistered, e.Plugins().State("router"))

	require.NoError(t, e.Use(ctx, p, nil))
	assert.True(t, e.HasPlugin("router"))
	assert.Equal(t, StateInstalled, e.Plugins().State("router"))
	assert.Equal(t, 1, p.installCount())

	got, ok := e.Plugins().Get("router")
	require.True(t, ok)
	assert.Equal(t, p, got)

	info, ok := e.Plugins().Info("router")
	require.True(t, ok)
	assert.False(t, info.InstallTime.IsZero())

	require.NoError(t, e.Unuse(ctx, "router"))
	assert.False(t, e.HasPlugin("router"))
	assert.Equal(t, StateUnregistered, e.Plugins().State("router"))
}

func TestUseRejectsDuplicate(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.Use(ctx, newFake("router", "1.0.0"), nil))
	err := e.Use(ctx, newFake("router", "2.0.0"), nil)
	assert.ErrorIs(t, err, plugins.ErrPluginAlreadyInstalled)
}

func TestUseRejectsInvalidPlugin(t *testing.T) {
	e := New()
	ctx := context.Background()

	assert.ErrorIs(t, e.Use(ctx, nil, nil), plugins.ErrInvalidPlugin)
	assert.ErrorIs(t, e.Use(ctx, newFake("", "1.0.0"), nil), plugins.ErrInvalidPlugin)
}

func TestUseRequiresInstalledDependencies(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("ui", "1.0.0", plugins.Require("core"))
	err := e.Use(ctx, p, nil)
	require.ErrorIs(t, err, plugins.ErrMissingDependency)
	assert.Contains(t, err.Error(), "core")
	assert.Equal(t, 0, p.installCount())

	require.NoError(t, e.Use(ctx, newFake("core", "1.0.0"), nil))
	assert.NoError(t, e.Use(ctx, p, nil))
}

func TestUseIgnoresInactiveAndOptionalDependencies(t *testing.T) {
	e := New()
	ctx := context.Background()

	gated := plugins.Require("feature-x")
	gated.Condition = func() bool { return false }

	p := newFake("ui", "1.0.0", gated, plugins.Optional("theme"))
	assert.NoError(t, e.Use(ctx, p, nil))
}

func TestUseAllowsAbsentPeerDependency(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("ui", "1.0.0", plugins.Peer("theme", "^1.0.0"))
	require.NoError(t, e.Use(ctx, p, nil))
	assert.True(t, e.HasPlugin("ui"))
}

func TestInstallFailureWrapped(t *testing.T) {
	e := New()
	ctx := context.Background()
	boom := errors.New("boom")

	p := newFake("flaky", "1.0.0")
	p.installFn = func(context.Context, plugins.Runtime, map[string]any) error { return boom }

	err := e.Use(ctx, p, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var perr *plugins.PluginError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "flaky", perr.PluginName)
	assert.Equal(t, "install", perr.Operation)
	assert.False(t, e.HasPlugin("flaky"))
}

func TestInstallPanicContained(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("panicky", "1.0.0")
	p.installFn = func(context.Context, plugins.Runtime, map[string]any) error { panic("nope") }

	err := e.Use(ctx, p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.False(t, e.HasPlugin("panicky"))
}

func TestInstallRetryPolicy(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("transient", "1.0.0")
	p.installFn = func(context.Context, plugins.Runtime, map[string]any) error {
		if p.installCount() < 3 {
			return errors.New("not ready")
		}
		return nil
	}

	opts := &InstallOptions{Retry: &RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond}}
	require.NoError(t, e.Use(ctx, p, opts))
	assert.Equal(t, 3, p.installCount())
	assert.True(t, e.HasPlugin("transient"))
}

func TestInstallRetryExhausted(t *testing.T) {
	e := New()
	ctx := context.Background()
	boom := errors.New("permanently broken")

	p := newFake("broken", "1.0.0")
	p.installFn = func(context.Context, plugins.Runtime, map[string]any) error { return boom }

	opts := &InstallOptions{Retry: &RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond}}
	err := e.Use(ctx, p, opts)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, p.installCount())
	assert.False(t, e.HasPlugin("broken"))
}

func TestCircularInstallDetected(t *testing.T) {
	e := New()
	ctx := context.Background()

	var inner error
	p := newFake("self-referential", "1.0.0")
	p.installFn = func(ctx context.Context, _ plugins.Runtime, _ map[string]any) error {
		inner = e.Use(ctx, p, nil)
		return inner
	}

	err := e.Use(ctx, p, nil)
	require.Error(t, err)
	assert.ErrorIs(t, inner, plugins.ErrCircularInstall)
	assert.Contains(t, inner.Error(), "self-referential -> self-referential")
}

func TestUninstallBlockedByDependents(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.Use(ctx, newFake("core", "1.0.0"), nil))
	require.NoError(t, e.Use(ctx, newFake("ui", "1.0.0", plugins.Require("core")), nil))

	assert.Equal(t, []string{"ui"}, e.Plugins().Dependents("core"))

	err := e.Unuse(ctx, "core")
	require.ErrorIs(t, err, plugins.ErrHasDependents)
	assert.Contains(t, err.Error(), "ui")
	assert.True(t, e.HasPlugin("core"))

	require.NoError(t, e.Unuse(ctx, "ui"))
	assert.Empty(t, e.Plugins().Dependents("core"))
	assert.NoError(t, e.Unuse(ctx, "core"))
}

func TestUninstallNotFound(t *testing.T) {
	e := New()
	err := e.Unuse(context.Background(), "ghost")
	assert.ErrorIs(t, err, plugins.ErrPluginNotFound)
}

func TestUninstallFailurePropagated(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("sticky", "1.0.0")
	p.uninstallErr = errors.New("resource busy")
	require.NoError(t, e.Use(ctx, p, nil))

	err := e.Unuse(ctx, "sticky")
	require.Error(t, err)
	assert.ErrorIs(t, err, p.uninstallErr)
	// A failed uninstall leaves the plugin registered.
	assert.True(t, e.HasPlugin("sticky"))
}

func TestClearUninstallsInReverseOrder(t *testing.T) {
	e := New()
	ctx := context.Background()

	var order []string
	a := newFake("a", "1.0.0")
	b := newFake("b", "1.0.0")
	c := newFake("c", "1.0.0")
	a.sink, b.sink, c.sink = &order, &order, &order
	b.uninstallErr = errors.New("teardown failure")

	require.NoError(t, e.Use(ctx, a, nil))
	require.NoError(t, e.Use(ctx, b, nil))
	require.NoError(t, e.Use(ctx, c, nil))

	e.Plugins().Clear(ctx)

	// Reverse install order; the failing uninstall does not stop teardown.
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.False(t, e.HasPlugin("a"))
	assert.False(t, e.HasPlugin("c"))
	assert.True(t, e.HasPlugin("b"))
}

func TestUseAllInstallsInResolvedOrder(t *testing.T) {
	e := New()
	ctx := context.Background()

	core := newFake("core", "1.0.0")
	store := newFake("store", "1.0.0", plugins.Require("core"))
	ui := newFake("ui", "1.0.0", plugins.Require("store"))

	// Declaration order is reversed on purpose; the resolver fixes it.
	require.NoError(t, e.UseAll(ctx, ui, store, core))
	assert.Equal(t, []string{"core", "store", "ui"}, e.Plugins().Names())
}

func TestUseAllSkipsInstalled(t *testing.T) {
	e := New()
	ctx := context.Background()

	core := newFake("core", "1.0.0")
	require.NoError(t, e.Use(ctx, core, nil))

	ui := newFake("ui", "1.0.0", plugins.Require("core"))
	require.NoError(t, e.UseAll(ctx, core, ui))
	assert.Equal(t, 1, core.installCount())
	assert.Equal(t, []string{"core", "ui"}, e.Plugins().Names())
}

func TestUseAllSatisfiesDependenciesFromInstalled(t *testing.T) {
	e := New()
	ctx := context.Background()

	core := newFake("core", "1.0.0")
	require.NoError(t, e.Use(ctx, core, nil))

	// core is not re-passed; the installed set joins the resolution.
	ui := newFake("ui", "1.0.0", plugins.RequireVersion("core", "^1.0.0"))
	store := newFake("store", "1.0.0", plugins.Require("core"))
	require.NoError(t, e.UseAll(ctx, ui, store))

	assert.Equal(t, 1, core.installCount())
	assert.Equal(t, []string{"core", "ui", "store"}, e.Plugins().Names())
}

func TestUseAllPeerMissingIsWarningOnly(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.UseAll(ctx, newFake("ui", "1.0.0", plugins.Peer("theme", ""))))
	assert.True(t, e.HasPlugin("ui"))
}

func TestUseAllRejectsCycle(t *testing.T) {
	e := New()
	ctx := context.Background()

	a := newFake("a", "1.0.0", plugins.Require("b"))
	b := newFake("b", "1.0.0", plugins.Require("a"))

	err := e.UseAll(ctx, a, b)
	require.ErrorIs(t, err, plugins.ErrCircularDependency)
	assert.Empty(t, e.Plugins().Names())
}

func TestUseAllRejectsMissingDependency(t *testing.T) {
	e := New()
	err := e.UseAll(context.Background(), newFake("ui", "1.0.0", plugins.Require("core")))
	assert.ErrorIs(t, err, plugins.ErrMissingDependency)
}

func TestUseAllRejectsIncompatibleVersion(t *testing.T) {
	e := New()
	core := newFake("core", "2.0.0")
	ui := newFake("ui", "1.0.0", plugins.RequireVersion("core", "^1.0.0"))

	err := e.UseAll(context.Background(), core, ui)
	require.ErrorIs(t, err, plugins.ErrVersionIncompatible)
	assert.Contains(t, err.Error(), "Required ^1.0.0, got 2.0.0")
}

func TestUseAllRollsBackOnFailure(t *testing.T) {
	e := New()
	ctx := context.Background()

	core := newFake("core", "1.0.0")
	ui := newFake("ui", "1.0.0", plugins.Require("core"))
	ui.installFn = func(context.Context, plugins.Runtime, map[string]any) error {
		return errors.New("install exploded")
	}

	err := e.UseAll(ctx, core, ui)
	require.Error(t, err)
	assert.False(t, e.HasPlugin("core"))
	assert.False(t, e.HasPlugin("ui"))
	assert.Equal(t, 1, core.uninstalls)
}

func TestUseAllParallelLevels(t *testing.T) {
	cfg := conf.Default()
	cfg.InstallParallelism = 4
	e := New(WithConfig(cfg))
	ctx := context.Background()

	core := newFake("core", "1.0.0")
	leaves := []*fakePlugin{
		newFake("ui", "1.0.0", plugins.Require("core")),
		newFake("store", "1.0.0", plugins.Require("core")),
		newFake("router", "1.0.0", plugins.Require("core")),
	}

	all := []plugins.Plugin{core}
	for _, p := range leaves {
		all = append(all, p)
	}
	require.NoError(t, e.UseAll(ctx, all...))

	names := e.Plugins().Names()
	require.Len(t, names, 4)
	assert.Equal(t, "core", names[0])
	for _, p := range leaves {
		assert.True(t, e.HasPlugin(p.name))
		assert.Equal(t, 1, p.installCount())
	}
}

func TestMountPhaseSequence(t *testing.T) {
	e := New()
	ctx := context.Background()
	var phases []string

	for _, phase := range []string{
		lifecycle.PhaseInit,
		lifecycle.PhaseBeforeMount,
		lifecycle.PhaseMount,
		lifecycle.PhaseMounted,
	} {
		phase := phase
		_, err := e.Lifecycle().On(phase, func(_ *lifecycle.Context) error {
			phases = append(phases, phase)
			return nil
		}, 0)
		require.NoError(t, err)
	}

	var mounted bool
	e.Events().SubscribeTo([]string{events.EventEngineMounted}, 0, func(events.Event) {
		mounted = true
	})

	require.NoError(t, e.Mount(ctx, nil))
	assert.Equal(t, []string{"init", "beforeMount", "mount", "mounted"}, phases)
	assert.Equal(t, StatusMounted, e.Status())
	assert.True(t, mounted)

	err := e.Mount(ctx, nil)
	assert.Error(t, err)
}

func TestMountAbortsOnCriticalFailure(t *testing.T) {
	e := New()
	ctx := context.Background()

	_, _ = e.Lifecycle().On(lifecycle.PhaseInit, func(_ *lifecycle.Context) error {
		return errors.New("init refused")
	}, 0)

	err := e.Mount(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init")
	assert.Equal(t, StatusCreated, e.Status())
}

func TestUnmountAndRemount(t *testing.T) {
	e := New()
	ctx := context.Background()

	assert.Error(t, e.Unmount(ctx, nil))

	require.NoError(t, e.Mount(ctx, nil))
	require.NoError(t, e.Unmount(ctx, nil))
	assert.Equal(t, StatusUnmounted, e.Status())

	// A remount failure must fall back to unmounted, not created.
	hookID, _ := e.Lifecycle().On(lifecycle.PhaseMount, func(_ *lifecycle.Context) error {
		return errors.New("remount refused")
	}, 0)
	require.Error(t, e.Mount(ctx, nil))
	assert.Equal(t, StatusUnmounted, e.Status())

	e.Lifecycle().Off(hookID)
	require.NoError(t, e.Mount(ctx, nil))
	assert.Equal(t, StatusMounted, e.Status())
}

func TestDestroyTearsDownEverything(t *testing.T) {
	e := New()
	ctx := context.Background()

	var order []string
	a := newFake("a", "1.0.0")
	b := newFake("b", "1.0.0")
	a.sink, b.sink = &order, &order
	require.NoError(t, e.UseAll(ctx, a, b))
	require.NoError(t, e.Mount(ctx, nil))

	var destroyPhases []string
	for _, phase := range []string{lifecycle.PhaseBeforeDestroy, lifecycle.PhaseDestroy, lifecycle.PhaseDestroyed} {
		phase := phase
		_, _ = e.Lifecycle().On(phase, func(_ *lifecycle.Context) error {
			destroyPhases = append(destroyPhases, phase)
			return nil
		}, 0)
	}

	require.NoError(t, e.Destroy(ctx, nil))
	assert.Equal(t, StatusDestroyed, e.Status())
	assert.Equal(t, []string{"beforeDestroy", "destroy", "destroyed"}, destroyPhases)
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Empty(t, e.Plugins().Names())

	// All hooks are dropped and the bus is closed.
	assert.Empty(t, e.Lifecycle().Hooks(lifecycle.PhaseDestroy))
	assert.Equal(t, 0, e.Events().ListenerCount())

	assert.Error(t, e.Destroy(ctx, nil))
}

func TestDestroyAbortsOnCriticalDestroyFailure(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.Use(ctx, newFake("survivor", "1.0.0"), nil))
	_, _ = e.Lifecycle().On(lifecycle.PhaseDestroy, func(_ *lifecycle.Context) error {
		return errors.New("not yet")
	}, 0)

	err := e.Destroy(ctx, nil)
	require.Error(t, err)
	// Plugins are only cleared after the destroy phase succeeds.
	assert.True(t, e.HasPlugin("survivor"))
}

func TestEmitEventExtractsPluginName(t *testing.T) {
	e := New()

	var got events.Event
	e.Events().Subscribe(0, func(evt events.Event) { got = evt })

	e.EmitEvent("custom.event", map[string]any{"plugin": "router", "detail": 42})
	assert.Equal(t, "custom.event", got.Type)
	assert.Equal(t, "router", got.PluginName)
	assert.Equal(t, e.Name(), got.Source)
	assert.Equal(t, 42, got.Metadata["detail"])
}

func TestPluginEventsPublished(t *testing.T) {
	e := New()
	ctx := context.Background()

	var types []string
	e.Events().Subscribe(0, func(evt events.Event) { types = append(types, evt.Type) })

	require.NoError(t, e.Use(ctx, newFake("router", "1.0.0"), nil))
	require.NoError(t, e.Unuse(ctx, "router"))

	assert.Equal(t, []string{
		events.EventPluginInstalling,
		events.EventPluginInstalled,
		events.EventPluginUninstalling,
		events.EventPluginUninstalled,
	}, types)
}

func TestPluginErrorEventBeforeFailure(t *testing.T) {
	e := New()
	ctx := context.Background()

	var errEvents []events.Event
	e.Events().SubscribeTo([]string{events.EventPluginError}, 0, func(evt events.Event) {
		errEvents = append(errEvents, evt)
	})

	_ = e.Unuse(ctx, "ghost")
	require.Len(t, errEvents, 1)
	assert.Equal(t, "ghost", errEvents[0].PluginName)
	assert.Equal(t, "uninstall", errEvents[0].Metadata["operation"])
}

func TestStateBag(t *testing.T) {
	e := New()

	_, ok := e.GetState("theme")
	assert.False(t, ok)

	e.SetState("theme", "dark")
	v, ok := e.GetState("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestPluginRuntimeSurface(t *testing.T) {
	e := New()
	ctx := context.Background()

	p := newFake("introspective", "1.0.0")
	p.installFn = func(_ context.Context, rt plugins.Runtime, opts map[string]any) error {
		rt.SetState("installed-by", rt.Name())
		rt.EmitEvent("plugin.custom", map[string]any{"plugin": rt.Name()})
		assert.Equal(t, "dark", opts["theme"])
		assert.False(t, rt.HasPlugin("introspective"))
		return nil
	}

	require.NoError(t, e.Use(ctx, p, &InstallOptions{Options: map[string]any{"theme": "dark"}}))
	v, ok := e.GetState("installed-by")
	require.True(t, ok)
	assert.Equal(t, "ldesign", v)
}

func TestExecuteHookRunsMiddleware(t *testing.T) {
	e := New()
	ctx := context.Background()

	var seen map[string]any
	_, err := e.Middleware().Add("render", func(mc *middleware.Context, next middleware.Next) error {
		seen = mc.Data
		assert.Equal(t, e, mc.Engine)
		return next()
	}, middleware.Options{})
	require.NoError(t, err)

	require.NoError(t, e.ExecuteHook(ctx, "render", map[string]any{"frame": 1}))
	assert.Equal(t, 1, seen["frame"])
}

func TestWithConfigOverrides(t *testing.T) {
	cfg := &conf.Engine{Name: "custom", HistoryCapacity: 5, InstallParallelism: 2, LogLevel: "info"}
	e := New(WithConfig(cfg))
	assert.Equal(t, "custom", e.Name())
	assert.Equal(t, 5, e.Events().History().Capacity())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "created", StatusCreated.String())
	assert.Equal(t, "mounted", StatusMounted.String())
	assert.Equal(t, "unmounted", StatusUnmounted.String())
	assert.Equal(t, "destroyed", StatusDestroyed.String())
	assert.Equal(t, "unknown", Status(99).String())
}
