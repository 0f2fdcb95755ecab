package session

// State is the lifecycle state of a session
type State int

const (
	// Uninitialized: no negotiation has started
	Uninitialized State = iota
	// Negotiating: initialize has been sent or answered, and the
	// initialized notification has not been seen yet
	Negotiating
	// Ready: normal operation
	Ready
	// ShuttingDown: no new requests are admitted; in-flight invocations
	// get the grace period
	ShuttingDown
	// Closed is terminal
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Negotiating:
		return "negotiating"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting_down"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions lists the states reachable from each state
var validTransitions = map[State][]State{
	Uninitialized: {Negotiating, ShuttingDown},
	Negotiating:   {Ready, ShuttingDown},
	Ready:         {ShuttingDown},
	ShuttingDown:  {Closed},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
