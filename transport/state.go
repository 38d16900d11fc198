package transport

// State is the lifecycle of one connection's transport
type State int

const (
	// StateIdle: no link bound, no buffer
	StateIdle State = iota
	// StateBound: write/notify destinations known, nothing pending
	StateBound
	// StateActive: a send is in flight or the receive buffer holds bytes
	StateActive
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}
