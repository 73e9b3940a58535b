package socket

import "fmt"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateIdle:
		if newState == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch newState {
		// Connecting to Closed happens on a failed handshake
		// or a Disconnect while the dial is in flight.
		case StateOpen, StateClosed:
			return nil
		}
	case StateOpen:
		switch newState {
		case StateClosing, StateClosed:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	case StateClosed:
		// The reconnect loop and a fresh Connect both start from Closed.
		if newState == StateConnecting {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
