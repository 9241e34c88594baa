package plugins

import (
	"errors"
	"fmt"
)

// Common error variables for plugin-related operations.
var (
	// ErrPluginNotFound indicates that a requested plugin is not installed.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginAlreadyInstalled indicates an attempt to install a plugin
	// whose name is already registered.
	ErrPluginAlreadyInstalled = errors.New("plugin already installed")

	// ErrPluginInstallInFlight indicates a concurrent install of the same
	// plugin name is still pending.
	ErrPluginInstallInFlight = errors.New("plugin install already in progress")

	// ErrPluginUninstallInFlight indicates a concurrent uninstall of the
	// same plugin name is still pending.
	ErrPluginUninstallInFlight = errors.New("plugin uninstall already in progress")

	// ErrInvalidPlugin indicates the plugin value does not satisfy the
	// minimal plugin shape (nil plugin or empty name).
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrMissingDependency indicates a required dependency is absent.
	ErrMissingDependency = errors.New("missing required dependency")

	// ErrCircularDependency indicates a dependency cycle was detected.
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrCircularInstall indicates an install-time dependency cycle,
	// distinct from a cycle in the static dependency graph.
	ErrCircularInstall = errors.New("circular install request detected")

	// ErrVersionIncompatible indicates a version requirement on a required
	// or peer dependency is not satisfied.
	ErrVersionIncompatible = errors.New("incompatible dependency version")

	// ErrHasDependents indicates an uninstall was blocked because other
	// installed plugins still depend on the target.
	ErrHasDependents = errors.New("plugin has installed dependents")
)

// PluginError is a structured error raised by plugin operations. It carries
// the plugin name, the operation that failed and the underlying cause so
// callers can log it meaningfully.
type PluginError struct {
	// PluginName identifies the plugin the operation targeted.
	PluginName string

	// Operation describes the action being performed ("install", "uninstall").
	Operation string

	// Message provides additional detail, may be empty.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("plugin %s: %s failed: %s (%v)", e.PluginName, e.Operation, e.Message, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s failed: %v", e.PluginName, e.Operation, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s failed: %s", e.PluginName, e.Operation, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a structured plugin error.
func NewPluginError(pluginName, operation, message string, err error) *PluginError {
	return &PluginError{
		PluginName: pluginName,
		Operation:  operation,
		Message:    message,
		Err:        err,
	}
}
