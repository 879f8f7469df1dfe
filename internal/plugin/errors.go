package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin is not installed.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNotService is returned when starting a plugin that is not a service.
	ErrNotService = errors.New("plugin is not a service")

	// ErrNotRunning is returned when addressing a plugin that is not running.
	ErrNotRunning = errors.New("plugin is not running")

	// ErrManagerClosed is returned once the manager loop has exited.
	ErrManagerClosed = errors.New("plugin manager is closed")

	// ErrRuntimeStarted is returned when a runtime is started twice.
	ErrRuntimeStarted = errors.New("plugin runtime already started")
)

// DependencyWarning reports a declared dependency that could not be
// resolved to an installed plugin. The plugin still starts without the
// dependency on its search path.
type DependencyWarning struct {
	Plugin     string
	Dependency string
}

func (w *DependencyWarning) Error() string {
	return fmt.Sprintf("plugin %s: dependency %s is not installed", w.Plugin, w.Dependency)
}
