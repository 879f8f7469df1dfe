package hook

import "fmt"

// Kind identifies an event category scripts can subscribe to.
type Kind int

// Callback kinds. The values are the constants scripts see.
const (
	OnComponentStateChanged Kind = iota
	OnSettingsChanged
	OnVisiblePriorityChanged

	kindCount
)

// Kinds returns every callback kind in declaration order.
func Kinds() []Kind {
	return []Kind{OnComponentStateChanged, OnSettingsChanged, OnVisiblePriorityChanged}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case OnComponentStateChanged:
		return "OnComponentStateChanged"
	case OnSettingsChanged:
		return "OnSettingsChanged"
	case OnVisiblePriorityChanged:
		return "OnVisiblePriorityChanged"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ScriptName returns the constant name the kind is exposed under.
func (k Kind) ScriptName() string {
	switch k {
	case OnComponentStateChanged:
		return "ON_COMP_STATE_CHANGED"
	case OnSettingsChanged:
		return "ON_SETTINGS_CHANGED"
	case OnVisiblePriorityChanged:
		return "ON_VISIBLE_PRIORITY_CHANGED"
	default:
		return ""
	}
}
