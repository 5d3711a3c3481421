package lifecycle

import "sync/atomic"

// Phase is the process lifecycle position reported by /health.
type Phase int32

const (
	// Starting covers config load through the HTTP listener coming up.
	Starting Phase = iota
	// Ready means the service accepts websocket connections and the scheduler is running.
	Ready
	// ShuttingDown is set on SIGTERM/SIGINT; new connections get 503 while hubs drain.
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "starting"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. ShuttingDown is sticky: later calls cannot leave it
// except through SetShuttingDown(false), which tests use to reset.
func SetPhase(p Phase) {
	for {
		cur := phase.Load()
		if Phase(cur) == ShuttingDown && p != ShuttingDown {
			return
		}
		if phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// Current returns the recorded phase.
func Current() Phase {
	return Phase(phase.Load())
}

// MarkReady moves Starting to Ready. Call once the listener is serving.
func MarkReady() {
	phase.CompareAndSwap(int32(Starting), int32(Ready))
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	if v {
		phase.Store(int32(ShuttingDown))
		return
	}
	phase.Store(int32(Ready))
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}
