package broker

// State is the broker lifecycle phase. Transitions happen through
// compare-and-swap only, so concurrent Start and Stop calls cannot
// double-run the same phase.
type State int32

const (
	StateInit State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	}

	return "unknown"
}
