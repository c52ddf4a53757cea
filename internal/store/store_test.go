package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.WithDefault("example.com", []string{"https://example.com/"}).
		WithSqliteDBPath(filepath.Join(dir, "crawl.db")).
		Build()
	require.NoError(t, err)

	s, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := newTestStore(t)
	count, err := s.CountByStatus(context.Background(), URLStatusPending)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestUpsertURL_InsertsThenIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com", Path: "/a", Priority: PriorityP0Seed}
	inserted, created, err := s.UpsertURL(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, URLStatusPending, inserted.Status)

	again, created, err := s.UpsertURL(ctx, rec)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, inserted.ID, again.ID)
}

func TestGetURL_UnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetURL(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaim_ReturnsPendingOrderedByPriorityThenAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "low", URL: "https://example.com/low", Host: "example.com", Priority: PriorityP3Discovered})
	require.NoError(t, err)
	_, _, err = s.UpsertURL(ctx, URLRecord{ID: "high", URL: "https://example.com/high", Host: "example.com", Priority: PriorityP0Seed})
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "high", claimed[0].ID)
	require.Equal(t, URLStatusFetching, claimed[0].Status)
	require.Equal(t, "worker-1", claimed[0].LockedBy)
}

func TestClaim_DoesNotReturnAlreadyFetchingRowsUnlessExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)

	first, err := s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.Claim(ctx, 10, "worker-2", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, second, 0)

	third, err := s.Claim(ctx, 10, "worker-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, third, 1)
}

func TestComplete_TransitionsToDoneWithMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)
	_, err = s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	err = s.Complete(ctx, URLRecord{
		ID: "u1", Status: URLStatusDone, HTTPStatus: 200, ContentType: "text/html",
		Title: "Example", WordCount: 120, Classification: "article", FetchedAt: time.Now(),
	})
	require.NoError(t, err)

	rec, ok, err := s.GetURL(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, URLStatusDone, rec.Status)
	require.Equal(t, 200, rec.HTTPStatus)
	require.Equal(t, "article", rec.Classification)
}

func TestExtendLock_PushesLockedAtForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)
	_, err = s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	before, _, err := s.GetURL(ctx, "u1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.ExtendLock(ctx, "u1"))

	after, _, err := s.GetURL(ctx, "u1")
	require.NoError(t, err)
	require.True(t, after.LockedAt.After(before.LockedAt))
}

func TestReleaseLock_ReturnsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)
	_, err = s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.ReleaseLock(ctx, "u1"))

	rec, _, err := s.GetURL(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, URLStatusPending, rec.Status)
}

func TestReclaimExpired_RequeuesUntilMaxReclaimsThenDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)
	_, err = s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Claim(ctx, 10, "worker-1", time.Now().Add(-time.Hour))
		require.NoError(t, err)

		n, err := s.ReclaimExpired(ctx, -time.Second, 2)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	rec, _, err := s.GetURL(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, URLStatusDead, rec.Status)
	require.Equal(t, "abandoned", rec.ErrorMsg)
}

func TestInsertDiscoveredLinksAndSnapshotLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertDiscoveredLinks(ctx, []DiscoveredLink{
		{ID: "l1", SourceURLID: "u1", TargetURL: "https://example.com/b", LinkText: "b", IsNavLink: false},
		{ID: "l2", SourceURLID: "u1", TargetURL: "https://example.com/nav", LinkText: "nav", IsNavLink: true},
	})
	require.NoError(t, err)

	links, err := s.SnapshotLinks(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, links, 2)
}

func TestAppendLogAndRecentLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, LogEntry{RunID: "r1", Level: "info", Message: "started"}))
	require.NoError(t, s.AppendLog(ctx, LogEntry{RunID: "r1", Level: "error", Message: "failed"}))

	entries, err := s.RecentLogs(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "failed", entries[0].Message)
}

func TestUpsertCrawlRunAndGetActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := CrawlRun{ID: "run1", TargetDomain: "example.com", StartedAt: time.Now(), Status: RunStatusRunning}
	require.NoError(t, s.UpsertCrawlRun(ctx, run))

	active, ok, err := s.GetActiveCrawlRun(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run1", active.ID)

	run.Status = RunStatusStopped
	run.EndedAt = time.Now()
	run.TotalFetched = 42
	require.NoError(t, s.UpsertCrawlRun(ctx, run))

	_, ok, err = s.GetActiveCrawlRun(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetAndPutIntelligence_RoundTripsFatalStateAndTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetIntelligence(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	state := IntelligenceState{
		Domain:               "example.com",
		FailureCountsByKind:  map[string]int{"timeout": 2},
		EconnresetCount:      4,
		PuppeteerRecommended: true,
		PuppeteerReason:      "econnreset storm",
		FatalState:           &FatalState{Reason: FatalConnectivity, Message: "too many resets", DetectedAt: time.Now()},
		Templates:            []Template{{Pattern: "/world/{slug}", VerifiedCount: 5, Confidence: 0.9}},
		LastUpdatedAt:        time.Now(),
	}
	require.NoError(t, s.PutIntelligence(ctx, state))

	loaded, ok, err := s.GetIntelligence(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, loaded.FailureCountsByKind["timeout"])
	require.Equal(t, 4, loaded.EconnresetCount)
	require.True(t, loaded.PuppeteerRecommended)
	require.NotNil(t, loaded.FatalState)
	require.Equal(t, FatalConnectivity, loaded.FatalState.Reason)
	require.Len(t, loaded.Templates, 1)
	require.Equal(t, "/world/{slug}", loaded.Templates[0].Pattern)

	state.EconnresetCount = 9
	require.NoError(t, s.PutIntelligence(ctx, state))

	updated, ok, err := s.GetIntelligence(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 9, updated.EconnresetCount)
}

func TestSnapshotURLs_OnlyReturnsRowsInWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertURL(ctx, URLRecord{ID: "u1", URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)

	snap, err := s.SnapshotURLs(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, snap, 1)

	empty, err := s.SnapshotURLs(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, empty, 0)
}
