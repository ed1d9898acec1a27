package connection

import "time"

// Transition represents a state change event.
type Transition struct {
	// ID is the unique identifier of the connection instance.
	ID string

	// Key is the symmetric connection key; empty while still connecting.
	Key string

	// Remote is the peer's network address.
	Remote string

	From State
	To   State

	Timestamp time.Time

	// Reason is a human-readable description of why the transition occurred.
	Reason string

	// Error is non-nil if the transition was caused by an error.
	Error error
}

// Observer receives notifications about state transitions.
// Notifications are delivered synchronously after the connection lock is
// released; implementations must not block and must not call Close on the
// connection they are notified about.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc is an adapter that allows using ordinary functions as Observers.
type ObserverFunc func(Transition)

// OnTransition implements the Observer interface.
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}
