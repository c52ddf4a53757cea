// Package queue is the durable, priority + FIFO-within-priority URL
// queue the Worker claims from. It wraps internal/store, adding
// dedup-on-normalized-URL, depth caps, and P3 backpressure on top of the
// Store's row-level locking.
package queue

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/pkg/hashutil"
	"github.com/metabench/crawlfleet/pkg/urlnorm"
)

type Queue struct {
	store *store.Store

	allowlist         urlnorm.AllowlistParam
	maxDepth          int
	visibilityTimeout time.Duration
	maxReclaims       int
	highWater         int
	lowWater          int

	mu            sync.Mutex
	suppressingP3 bool
}

func NewQueue(s *store.Store, cfg config.Config) *Queue {
	return &Queue{
		store:             s,
		allowlist:         urlnorm.NewAllowlistParam(cfg.QueryParamAllowlist()...),
		maxDepth:          cfg.MaxDepth(),
		visibilityTimeout: cfg.QueueVisibilityTimeout(),
		maxReclaims:       cfg.QueueMaxReclaims(),
		highWater:         cfg.QueueHighWaterMark(),
		lowWater:          cfg.QueueLowWaterMark(),
	}
}

func (q *Queue) idFor(normalized string) string {
	id, _ := hashutil.HashBytes([]byte(normalized), hashutil.HashAlgoBLAKE3)
	return id
}

// Seed idempotently inserts urls at depth 0, priority P0. Already-present
// URLs are left untouched; it returns the count actually inserted.
func (q *Queue) Seed(ctx context.Context, urls []string) (int, error) {
	inserted := 0
	for _, raw := range urls {
		normalized, ok := urlnorm.NormalizeString(raw, q.allowlist)
		if !ok {
			continue
		}
		parsed, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		rec := store.URLRecord{
			ID:       q.idFor(normalized),
			URL:      normalized,
			Host:     parsed.Hostname(),
			Path:     parsed.Path,
			Depth:    0,
			Priority: store.PriorityP0Seed,
		}
		_, created, err := q.store.UpsertURL(ctx, rec)
		if err != nil {
			return inserted, &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}

// Enqueue inserts a discovered URL, deduping on its normalized form.
// Returns false without error when the URL already exists, when depth
// exceeds maxDepth, or when priority is P3 and the queue is suppressing
// discovered links under backpressure (see shouldSuppressP3).
func (q *Queue) Enqueue(ctx context.Context, rawURL string, fromID string, depth int, priority store.Priority) (bool, error) {
	if depth > q.maxDepth {
		return false, nil
	}
	if priority == store.PriorityP3Discovered && q.shouldSuppressP3(ctx) {
		return false, nil
	}

	normalized, ok := urlnorm.NormalizeString(rawURL, q.allowlist)
	if !ok {
		return false, nil
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return false, nil
	}

	rec := store.URLRecord{
		ID:             q.idFor(normalized),
		URL:            normalized,
		Host:           parsed.Hostname(),
		Path:           parsed.Path,
		Depth:          depth,
		DiscoveredFrom: fromID,
		Priority:       priority,
	}
	_, created, err := q.store.UpsertURL(ctx, rec)
	if err != nil {
		return false, &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return created, nil
}

// shouldSuppressP3 implements the queueHighWater/queueLowWater hysteresis:
// once pending count crosses highWater, P3 enqueues are suppressed until
// it falls back below lowWater. P0/P1/P2 are never suppressed.
func (q *Queue) shouldSuppressP3(ctx context.Context) bool {
	pending, err := q.store.CountByStatus(ctx, store.URLStatusPending)
	if err != nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.suppressingP3 {
		if pending < q.lowWater {
			q.suppressingP3 = false
		}
	} else if pending > q.highWater {
		q.suppressingP3 = true
	}
	return q.suppressingP3
}

// Claim atomically selects up to limit pending (or visibility-timeout
// expired fetching) rows for workerID.
func (q *Queue) Claim(ctx context.Context, limit int, workerID string) ([]store.URLRecord, error) {
	visibleAfter := time.Now().Add(-q.visibilityTimeout)
	recs, err := q.store.Claim(ctx, limit, workerID, visibleAfter)
	if err != nil {
		return nil, &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return recs, nil
}

// Complete transitions a claimed URL to done, error, or dead per outcome.
func (q *Queue) Complete(ctx context.Context, id string, outcome Outcome) error {
	rec := store.URLRecord{
		ID:             id,
		Status:         outcome.Status,
		HTTPStatus:     outcome.HTTPStatus,
		ContentType:    outcome.ContentType,
		ContentLength:  outcome.ContentLength,
		Title:          outcome.Title,
		WordCount:      outcome.WordCount,
		Classification: outcome.Classification,
		LinksFound:     outcome.LinksFound,
		ErrorMsg:       outcome.ErrorMsg,
		FetchedAt:      outcome.FetchedAt,
	}
	if err := q.store.Complete(ctx, rec); err != nil {
		return &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return nil
}

// ExtendLock pushes a claimed row's visibility window forward, for a
// fetch/analysis pass running long.
func (q *Queue) ExtendLock(ctx context.Context, id string) error {
	if err := q.store.ExtendLock(ctx, id); err != nil {
		return &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return nil
}

// ReleaseLock returns a claimed row to pending without penalty, e.g. on a
// 429/503 re-queue at the original priority.
func (q *Queue) ReleaseLock(ctx context.Context, id string) error {
	if err := q.store.ReleaseLock(ctx, id); err != nil {
		return &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return nil
}

// ReclaimExpired moves rows whose visibility timeout has lapsed back to
// pending, dead-lettering those past maxReclaims. Returns the number of
// rows reclaimed (including dead-lettered ones).
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := q.store.ReclaimExpired(ctx, q.visibilityTimeout, q.maxReclaims)
	if err != nil {
		return 0, &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return n, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.store.CountByStatus(ctx, store.URLStatusPending)
	if err != nil {
		return 0, &QueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return n, nil
}
