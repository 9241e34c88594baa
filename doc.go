// Package ldesign provides a plugin-driven application engine.
//
// An engine is composed from four cooperating managers:
//
//   - Dependency resolver: turns a set of declared plugins into a safe
//     installation order, detecting cycles, missing dependencies and
//     semantic version conflicts (plugins package).
//   - Plugin manager: installs and uninstalls plugins with a per-name
//     state machine and a dependents index (engine package).
//   - Middleware manager: named, priority-ordered middleware chains with
//     explicit continuation (middleware package).
//   - Lifecycle manager: phased hooks driving the engine's mount, unmount
//     and destroy transitions (lifecycle package).
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//
//	    ldesign "github.com/poly1603/ldesign-engine-sub002"
//	)
//
//	func main() {
//	    eng := ldesign.New()
//	    defer eng.Destroy(context.Background(), nil)
//
//	    if err := eng.UseAll(context.Background(), myPlugins()...); err != nil {
//	        panic(err)
//	    }
//	    if err := eng.Mount(context.Background(), nil); err != nil {
//	        panic(err)
//	    }
//	}
//
// # Plugin Development
//
// A plugin implements plugins.Plugin; dependency declarations and teardown
// are opt-in through plugins.DependencyAware and plugins.Uninstaller:
//
//	type routerPlugin struct{}
//
//	func (p *routerPlugin) Name() string    { return "router" }
//	func (p *routerPlugin) Version() string { return "1.0.0" }
//
//	func (p *routerPlugin) Install(ctx context.Context, rt plugins.Runtime, opts map[string]any) error {
//	    rt.SetState("router.routes", newRouteTable())
//	    return nil
//	}
//
//	func (p *routerPlugin) Dependencies() []plugins.Dependency {
//	    return []plugins.Dependency{plugins.RequireVersion("core", "^1.0.0")}
//	}
//
// # Configuration
//
// Engine settings load from a yaml or json file under the "engine" key; see
// the conf package.
package ldesign
