package relay

// State is the lifecycle position of one relay invocation.
type State int

const (
	StateInitializing State = iota
	StateAwaitingConnection
	StateAuthenticated
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingConnection:
		return "awaiting_connection"
	case StateAuthenticated:
		return "authenticated"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events may follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
