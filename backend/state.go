package backend

//go:generate enumer -type=State -trimprefix=State

// State is the connection state of one channel.
//
//	Disconnected -> Connecting -> ConnectedUnregistered -> Registered
//
// Any state falls back to Disconnected on error. Closed is terminal.
type State uint

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedUnregistered
	StateRegistered
	StateClosed
)

func (s State) connected() bool {
	return s == StateConnectedUnregistered || s == StateRegistered
}
