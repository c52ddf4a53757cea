package watchdog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/intelligence"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/queue"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/internal/watchdog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	status       watchdog.Status
	restartCalls int
	restartErr   error
}

func (f *fakeController) Status() watchdog.Status { return f.status }
func (f *fakeController) Restart(ctx context.Context) error {
	f.restartCalls++
	return f.restartErr
}

type nopSink struct{}

func (nopSink) RecordError(time.Time, string, string, metadata.ErrorCause, string, []metadata.Attribute) {
}
func (nopSink) RecordFetch(string, int, time.Duration, string, int, int)    {}
func (nopSink) RecordArtifact(metadata.ArtifactKind, string, []metadata.Attribute) {}
func (nopSink) RecordAssetFetch(string, int, time.Duration, int)           {}

func newHarness(t *testing.T, mutate func(*config.Config)) (*store.Store, *intelligence.Intelligence, *queue.Queue, config.Config) {
	t.Helper()
	dir := t.TempDir()
	builder := config.WithDefault("example.com", []string{"https://example.com/"}).WithSqliteDBPath(filepath.Join(dir, "crawl.db"))
	if mutate != nil {
		mutate(builder)
	}
	cfg, err := builder.Build()
	require.NoError(t, err)

	s, err := store.Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, intelligence.NewIntelligence(s, cfg), queue.NewQueue(s, cfg), cfg
}

func TestTick_ResetsRestartCountOnProgress(t *testing.T) {
	_, in, q, cfg := newHarness(t, nil)
	ctrl := &fakeController{status: watchdog.Status{IsRunning: true, DoneCount: 5}}
	wd := watchdog.NewWatchdog("example.com", ctrl, q, in, nopSink{}, cfg, []string{"https://example.com/"})

	require.Nil(t, wd.Tick(context.Background()))
	require.Zero(t, ctrl.restartCalls, "running worker with progress must not be restarted")
}

func TestTick_ReseedsAndRestartsOnEmptyQueueStalledWorker(t *testing.T) {
	_, in, q, cfg := newHarness(t, func(c *config.Config) { c.WithWatchdogMaxRestarts(3) })
	ctrl := &fakeController{status: watchdog.Status{IsRunning: false, DoneCount: 0, PendingCount: 0}}
	wd := watchdog.NewWatchdog("example.com", ctrl, q, in, nopSink{}, cfg, []string{"https://example.com/"})

	require.Nil(t, wd.Tick(context.Background()))
	require.Equal(t, 1, ctrl.restartCalls)

	pending, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pending, "watchdog must reseed before restarting an empty, stalled worker")
}

func TestTick_SetsFatalAfterMaxRestartsWithoutProgress(t *testing.T) {
	_, in, q, cfg := newHarness(t, func(c *config.Config) { c.WithWatchdogMaxRestarts(2) })
	ctrl := &fakeController{status: watchdog.Status{IsRunning: false, DoneCount: 0, PendingCount: 1}}
	wd := watchdog.NewWatchdog("example.com", ctrl, q, in, nopSink{}, cfg, []string{"https://example.com/"})

	require.Nil(t, wd.Tick(context.Background()))
	require.Nil(t, wd.Tick(context.Background()))

	state, err := in.Get(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, state.FatalState)
	require.Equal(t, store.FatalWatchdogExhausted, state.FatalState.Reason)
}

func TestTick_NeverRestartsOnceFatal(t *testing.T) {
	_, in, q, cfg := newHarness(t, nil)
	require.NoError(t, in.RaiseWatchdogExhausted(context.Background(), "example.com", "already exhausted"))

	ctrl := &fakeController{status: watchdog.Status{IsRunning: false, DoneCount: 0, PendingCount: 0}}
	wd := watchdog.NewWatchdog("example.com", ctrl, q, in, nopSink{}, cfg, []string{"https://example.com/"})

	require.Nil(t, wd.Tick(context.Background()))
	require.Zero(t, ctrl.restartCalls, "a fatal domain must never be restarted")
}
