package watchdog

import "context"

// Status is the Worker's self-reported progress, polled once per tick.
type Status struct {
	IsRunning    bool
	DoneCount    int
	PendingCount int
}

// Controller is the command/query surface the Watchdog holds onto a
// Worker through — a capability pair instead of reaching into Worker
// fields directly.
type Controller interface {
	Status() Status
	Restart(ctx context.Context) error
}
