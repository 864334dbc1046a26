package sync

// ConnectionState is the sync agent's internal connection state. Exactly
// one state is active at a time and it drives which delivery path is live.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnectedPush ConnectionState = "connected_push"
	StateConnectedPoll ConnectionState = "connected_poll"
	StateError         ConnectionState = "error"
)

// Status reduces the internal state to the coarse operator-facing
// connectivity indicator. Push delivery and poll fallback both render as
// "connected" to avoid false alarms while the agent self-heals; the true
// state stays available through Agent.DebugState for support use.
func (s ConnectionState) Status() string {
	switch s {
	case StateConnectedPush, StateConnectedPoll:
		return "connected"
	case StateConnecting, StateError:
		return "connecting"
	default:
		return "disconnected"
	}
}
