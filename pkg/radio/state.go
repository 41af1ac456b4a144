package radio

// ConnectionState describes the lifecycle of a Link as driven by its
// supervisor: Disconnected -> Connecting -> Bound -> Degraded -> Disconnected.
// Bound is the only state in which sends and receives are accepted.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateBound
	// StateDegraded means the link was bound but has stopped responding
	// and a reconnect has been scheduled.
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}
