package session

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopped
	// Advancing holds the re-entrancy guard while a skip is being resolved.
	Advancing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Advancing:
		return "advancing"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// transitions lists the states each state may move to. Start may be issued
// from any state and is handled separately.
var transitions = map[State][]State{
	Idle:      {Running},
	Running:   {Stopped, Advancing, Running},
	Stopped:   {Running, Advancing},
	Advancing: {Running, Finished},
	Finished:  {Running},
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
