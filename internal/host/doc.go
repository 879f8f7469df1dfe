// Package host defines the services plugins drive: the component register,
// the color and effect engine, and the priority muxer.
//
// The interfaces are what the plugin runtime consumes. Registry and Muxer
// are small in-memory implementations used by the daemon when no LED pipeline
// is attached, and by tests.
package host
