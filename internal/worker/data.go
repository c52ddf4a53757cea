package worker

import "time"

// runStats is the Worker's own bookkeeping, read by Status() under mu.
type runStats struct {
	doneCount  int
	errorCount int
	startedAt  time.Time
}
