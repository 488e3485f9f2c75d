package bridge

import "sync/atomic"

// State is the process-level lifecycle of the bridge.
type State int32

const (
	StateUnregistered State = iota
	StateRegistering
	StateRelaying
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRelaying:
		return "relaying"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the current bridge state. Written by the handshake
// client and relay loop, read by the status API.
type Lifecycle struct {
	v atomic.Int32
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

func (l *Lifecycle) Set(s State) {
	l.v.Store(int32(s))
}

func (l *Lifecycle) State() State {
	return State(l.v.Load())
}
