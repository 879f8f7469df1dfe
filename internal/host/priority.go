package host

// Priority constants.
const (
	// DefaultPriority is used for plugin inputs that give no priority.
	DefaultPriority = 50

	// LowestPriority is the background priority that is always registered.
	LowestPriority = 255

	// Indefinite marks an input without a timeout.
	Indefinite = -1
)

// InputInfo describes a registered priority input.
type InputInfo struct {
	Priority int `json:"priority"`

	// TimeoutMs is an absolute deadline in Unix milliseconds, or a value
	// <= 0 for an input without a deadline.
	TimeoutMs int64 `json:"timeout"`

	Component Component `json:"componentId"`
	Origin    string    `json:"origin"`
	Owner     string    `json:"owner"`
}

// PriorityMuxer arbitrates between priority inputs.
type PriorityMuxer interface {
	// PriorityInfo returns the input registered at priority.
	PriorityInfo(priority int) (InputInfo, bool)

	// ActivePriorities returns the registered priorities in ascending order.
	ActivePriorities() []int

	// CurrentPriority returns the visible priority.
	CurrentPriority() int

	// SetCurrentSourcePriority selects priority as the visible source.
	// Returns false if no input is registered at priority.
	SetCurrentSourcePriority(priority int) bool

	// SubscribeVisiblePriority registers fn for visible priority changes.
	// The returned function removes the subscription.
	SubscribeVisiblePriority(fn func(priority int)) (unsubscribe func())
}
