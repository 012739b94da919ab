package connection

// State is the connection actor's lifecycle stage (spec §5 "Connection
// lifecycle as a tagged state").
type State int32

const (
	StateAwaitingConnect State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateAwaitingConnect:
		return "awaiting-connect"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
