package connection

import "fmt"

// State represents the lifecycle state of a replication link.
type State int

const (
	// StateConnecting indicates an outbound dial is in progress.
	StateConnecting State = iota

	// StateOpen indicates the transport is established and frames are flowing.
	StateOpen

	// StateDraining indicates the transport stopped delivering frames and the
	// processor is finishing whatever was already queued.
	StateDraining

	// StateClosed indicates the connection is finished (terminal state).
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal returns true if this is a terminal state (no further transitions allowed).
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// IsActive returns true if the connection accepts outbound frames.
func (s State) IsActive() bool {
	return s == StateOpen
}

// CanTransitionTo returns true if a transition to the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case StateConnecting:
		// Dial succeeded or failed/cancelled
		return target == StateOpen || target == StateClosed

	case StateOpen:
		// Read side ended, or explicit close
		return target == StateDraining || target == StateClosed

	case StateDraining:
		return target == StateClosed

	default:
		return false
	}
}

// TransitionError is returned when an invalid state transition is attempted.
type TransitionError struct {
	From    State
	To      State
	Peer    string
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid state transition for peer %s: %s -> %s: %s",
			e.Peer, e.From, e.To, e.Message)
	}
	return fmt.Sprintf("invalid state transition for peer %s: %s -> %s",
		e.Peer, e.From, e.To)
}

// NewTransitionError creates a new transition error.
func NewTransitionError(from, to State, peer, message string) *TransitionError {
	return &TransitionError{
		From:    from,
		To:      to,
		Peer:    peer,
		Message: message,
	}
}
