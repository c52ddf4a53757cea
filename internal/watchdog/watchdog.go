/*
Package watchdog detects a stalled per-domain Worker — no progress
since the last tick, not currently running, and no fatal state already
raised — and tries to recover it by reseeding and restarting, up to a
bounded number of attempts before handing the domain a permanent fatal
state via internal/intelligence.
*/
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/intelligence"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/queue"
)

type Watchdog struct {
	domain       string
	controller   Controller
	queue        *queue.Queue
	intelligence *intelligence.Intelligence
	metadataSink metadata.MetadataSink
	cfg          config.Config
	seedURLs     []string

	lastDoneCount int
	restartCount  int
}

func NewWatchdog(
	domain string,
	controller Controller,
	q *queue.Queue,
	in *intelligence.Intelligence,
	metadataSink metadata.MetadataSink,
	cfg config.Config,
	seedURLs []string,
) *Watchdog {
	return &Watchdog{
		domain:       domain,
		controller:   controller,
		queue:        q,
		intelligence: in,
		metadataSink: metadataSink,
		cfg:          cfg,
		seedURLs:     seedURLs,
	}
}

// Run ticks at cfg.WatchdogInterval() until ctx is cancelled. It is
// itself cancellation-aware, observing ctx within the same tick it
// fires on rather than blocking past it.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WatchdogInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.metadataSink.RecordError(
					time.Now(),
					"watchdog",
					"Watchdog.Tick",
					mapWatchdogErrorToMetadataCause(err),
					err.Error(),
					[]metadata.Attribute{metadata.NewAttr(metadata.AttrDomain, w.domain)},
				)
			}
		}
	}
}

// Tick runs one watchdog evaluation. Exported directly so tests and a
// driving cmd/ main can step it without waiting on a real ticker.
func (w *Watchdog) Tick(ctx context.Context) *WatchdogError {
	state, err := w.intelligence.Get(ctx, w.domain)
	if err != nil {
		return &WatchdogError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	if state.FatalState != nil {
		return nil
	}

	status := w.controller.Status()
	if status.DoneCount > w.lastDoneCount {
		w.lastDoneCount = status.DoneCount
		w.restartCount = 0
		return nil
	}
	if status.IsRunning {
		return nil
	}

	if status.PendingCount == 0 {
		if _, err := w.queue.Seed(ctx, w.seedURLs); err != nil {
			return &WatchdogError{Message: err.Error(), Retryable: true, Cause: ErrCauseSeedFailure}
		}
	}
	if err := w.controller.Restart(ctx); err != nil {
		return &WatchdogError{Message: err.Error(), Retryable: true, Cause: ErrCauseRestartFailure}
	}
	w.restartCount++

	if w.restartCount >= w.cfg.WatchdogMaxRestarts() {
		message := fmt.Sprintf("%d restart attempts without progress", w.restartCount)
		if err := w.intelligence.RaiseWatchdogExhausted(ctx, w.domain, message); err != nil {
			return &WatchdogError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
		}
	}
	return nil
}
