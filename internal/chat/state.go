package chat

import "fmt"

// State is a chat turn's position in the pipeline.
type State int

const (
	StateReceived State = iota
	StatePlanned
	StateRetrieved
	StateGenerated
	StateValidated
	StateDelivered
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StatePlanned:
		return "planned"
	case StateRetrieved:
		return "retrieved"
	case StateGenerated:
		return "generated"
	case StateValidated:
		return "validated"
	case StateDelivered:
		return "delivered"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateRejected
}

// transitions lists the legal successors of each state. Retrieved may go
// straight to Delivered when nothing matched, and any non-terminal state may
// be abandoned as Rejected.
var transitions = map[State][]State{
	StateReceived:  {StatePlanned, StateRejected},
	StatePlanned:   {StateRetrieved, StateRejected},
	StateRetrieved: {StateGenerated, StateDelivered, StateRejected},
	StateGenerated: {StateValidated, StateRejected},
	StateValidated: {StateDelivered, StateRejected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
