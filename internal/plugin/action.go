package plugin

import "fmt"

// Action is a plugin lifecycle action. Requests (Start, Stop, Remove, Save,
// AutoUpdate, Install) flow into the Manager; their results (Started,
// Stopped, Removed, Saved, AutoUpdated, Installed, Error) flow out of it.
type Action int

// Lifecycle actions.
const (
	ActionInstall Action = iota
	ActionInstalled
	ActionRemove
	ActionRemoved
	ActionStart
	ActionStarted
	ActionStop
	ActionStopped
	ActionSave
	ActionSaved
	ActionAutoUpdate
	ActionAutoUpdated
	ActionError
	ActionUpdateAvailable
	ActionUpdatedAvailable
)

var actionNames = [...]string{
	ActionInstall:          "install",
	ActionInstalled:        "installed",
	ActionRemove:           "remove",
	ActionRemoved:          "removed",
	ActionStart:            "start",
	ActionStarted:          "started",
	ActionStop:             "stop",
	ActionStopped:          "stopped",
	ActionSave:             "save",
	ActionSaved:            "saved",
	ActionAutoUpdate:       "autoUpdate",
	ActionAutoUpdated:      "autoUpdated",
	ActionError:            "error",
	ActionUpdateAvailable:  "updateAvailable",
	ActionUpdatedAvailable: "updatedAvailable",
}

// String returns the action name.
func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// ActionEvent is a lifecycle message exchanged between the Manager, the
// catalog and running plugins.
type ActionEvent struct {
	Action  Action
	ID      string
	Success bool

	// Definition is set for Saved and Installed events.
	Definition *Definition

	// Identity is the runtime identity for Started, Stopped and Error.
	Identity string
}

// String returns a short representation for logs.
func (e ActionEvent) String() string {
	return fmt.Sprintf("%s(%s, success=%t)", e.Action, e.ID, e.Success)
}
