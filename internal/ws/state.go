package ws

// State is the connection lifecycle state
type State int32

const (
	Disconnected State = iota
	Connecting
	Registering
	Active
	BackingOff
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Registering:  "registering",
	Active:       "active",
	BackingOff:   "backing_off",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// States lists every state in declaration order
func States() []State {
	return []State{Disconnected, Connecting, Registering, Active, BackingOff}
}
