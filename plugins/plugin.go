// Package plugins provides the core plugin contracts for the LDesign engine:
// the Plugin interface, dependency declarations between plugins, semantic
// version handling, and the dependency resolver that turns a set of declared
// plugins into a safe installation order.
package plugins

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
)

// Plugin is the minimal contract every engine plugin must satisfy.
// Install is called exactly once per successful installation; it receives the
// runtime surface of the owning engine and the caller-supplied options.
type Plugin interface {
	// Name returns the globally unique plugin name. A name may be installed
	// at most once at any given time.
	Name() string

	// Version returns the plugin's semantic version ("1.2.0" or "v1.2.0").
	// An empty string means the plugin is unversioned; version requirements
	// declared against it by other plugins then fail compatibility checks.
	Version() string

	// Install wires the plugin into the engine. Returning an error aborts the
	// installation and leaves the plugin unregistered.
	Install(ctx context.Context, rt Runtime, opts map[string]any) error
}

// Uninstaller is implemented by plugins that need teardown on removal.
// Plugins without it are simply dropped from the registry on uninstall.
type Uninstaller interface {
	Uninstall(ctx context.Context, rt Runtime) error
}

// DependencyAware is implemented by plugins that declare dependencies on
// other plugins. Plugins without it are treated as dependency-free.
type DependencyAware interface {
	Dependencies() []Dependency
}

// Runtime is the surface of the engine visible to plugins during their
// lifecycle calls. The engine package provides the canonical implementation.
type Runtime interface {
	// Name returns the engine instance name.
	Name() string

	// Logger returns the engine logger for plugin diagnostics.
	Logger() log.Logger

	// EmitEvent publishes an event on the engine event bus.
	EmitEvent(eventType string, metadata map[string]any)

	// SetState and GetState expose the engine-owned shared state bag.
	SetState(key string, value any)
	GetState(key string) (any, bool)

	// HasPlugin reports whether a plugin name is currently installed.
	HasPlugin(name string) bool
}
