// Package hook holds the callback registrations a plugin script makes.
//
// A script subscribes a function to one of the callback kinds. Component
// state subscriptions may carry a filter so the function only sees events for
// the listed components:
//
//	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, fn)
//	plugin.registerCallback(plugin.callbacks.ON_COMP_STATE_CHANGED, fn, { plugin.components.SMOOTHING })
//
// Registering the same function again for a kind replaces the earlier
// registration, so a kind never lists a function twice.
package hook
