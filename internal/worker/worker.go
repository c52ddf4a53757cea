/*
Package worker is the per-domain crawl orchestrator: the single logical
flow of control that claims from internal/queue, clears
internal/robotscache and pkg/ratelimiter, fetches with
internal/fetcher, classifies with internal/analyzer, folds outcomes
into internal/intelligence, and enqueues discovered links — the cycle
internal/watchdog and internal/export sit alongside.
*/
package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/metabench/crawlfleet/internal/analyzer"
	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/fetcher"
	"github.com/metabench/crawlfleet/internal/intelligence"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/queue"
	"github.com/metabench/crawlfleet/internal/robotscache"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/internal/watchdog"
	"github.com/metabench/crawlfleet/pkg/failure"
	"github.com/metabench/crawlfleet/pkg/ratelimiter"
	"github.com/metabench/crawlfleet/pkg/retry"
	"github.com/metabench/crawlfleet/pkg/timeutil"
)

// analysisTimeout bounds one in-flight Analyze call; past it the page is
// abandoned with error(reason="analysis_timeout") per the cancellation
// contract. claimBatchSize is how many URLs Claim pulls per empty-queue
// check.
const (
	analysisTimeout = 5 * time.Second
	claimBatchSize  = 1
	workerIDPrefix  = "worker"
)

type Worker struct {
	domain       string
	id           string
	cfg          config.Config
	queue        *queue.Queue
	store        *store.Store
	fetcher      fetcher.HtmlFetcher
	robot        *robotscache.CachedRobot
	rateLimiter  *ratelimiter.RateLimiter
	analyzer     analyzer.Analyzer
	intelligence *intelligence.Intelligence
	metadataSink metadata.MetadataSink

	mu        sync.Mutex
	isRunning bool
	stopping  bool
	stats     runStats
}

func NewWorker(
	domain string,
	cfg config.Config,
	s *store.Store,
	q *queue.Queue,
	in *intelligence.Intelligence,
	metadataSink metadata.MetadataSink,
) *Worker {
	robot := robotscache.NewCachedRobot(metadataSink)
	robot.Init(cfg.UserAgent())

	rl := ratelimiter.NewRateLimiter(ratelimiter.NewAdaptiveParam(
		cfg.RateLimiterCapacity(),
		cfg.RateLimiterBaseRefillRate(),
		cfg.RateLimiterCeilingMultiplier(),
		cfg.RateLimiterDecreaseFactor(),
		cfg.RateLimiterIncreaseFactor(),
		cfg.RateLimiterMinRefillRate(),
		cfg.RateLimiterJitter(),
		cfg.RandomSeed(),
		timeutil.NewBackoffParam(cfg.NetworkBackoffInitialDuration(), cfg.NetworkBackoffMultiplier(), cfg.NetworkBackoffMaxDuration()),
	))

	return &Worker{
		domain:       domain,
		id:           fmt.Sprintf("%s-%s", workerIDPrefix, domain),
		cfg:          cfg,
		queue:        q,
		store:        s,
		fetcher:      fetcher.NewHtmlFetcher(metadataSink),
		robot:        robot,
		rateLimiter:  rl,
		analyzer:     analyzer.NewAnalyzer(metadataSink, cfg),
		intelligence: in,
		metadataSink: metadataSink,
	}
}

func retryParam(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.BackoffInitialDuration(),
		cfg.RateLimiterJitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration()),
	)
}

// Status reports progress for internal/watchdog's Controller contract.
func (w *Worker) Status() watchdog.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending, _ := w.queue.PendingCount(context.Background())
	return watchdog.Status{
		IsRunning:    w.isRunning,
		DoneCount:    w.stats.doneCount,
		PendingCount: pending,
	}
}

// Restart satisfies watchdog.Controller: it kicks off a fresh Run in the
// background if one isn't already in flight.
func (w *Worker) Restart(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	go w.Run(ctx)
	return nil
}

// Stop requests a graceful drain: in-flight work completes, locks are
// released, and Run returns once the current cycle observes the flag.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
}

// Run drives the crawl cycle until ctx is cancelled, the domain goes
// fatal, MaxPages is reached, or Stop is called. It is safe to call
// again after a prior Run has returned (e.g. from Watchdog.Restart).
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.stopping = false
	w.stats.startedAt = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.isRunning = false
		w.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.mu.Lock()
		stopping := w.stopping
		doneCount := w.stats.doneCount
		w.mu.Unlock()
		if stopping {
			return nil
		}
		if w.cfg.MaxPages() > 0 && doneCount >= w.cfg.MaxPages() {
			return nil
		}

		state, err := w.intelligence.Get(ctx, w.domain)
		if err == nil && state.FatalState != nil {
			return nil
		}

		recs, err := w.queue.Claim(ctx, claimBatchSize, w.id)
		if err != nil || len(recs) == 0 {
			if _, rerr := w.queue.ReclaimExpired(ctx); rerr != nil {
				w.recordError("Worker.Run", &WorkerError{Message: rerr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
			}
			if !w.sleep(ctx, w.idleSleep()) {
				return ctx.Err()
			}
			continue
		}

		for _, rec := range recs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.processOne(ctx, rec)
			w.mu.Lock()
			w.stats.doneCount++
			w.mu.Unlock()
		}
	}
}

// idleSleep returns a pseudo-random duration in [IdleSleepMin,
// IdleSleepMax) so a single empty domain doesn't busy-poll the Store.
func (w *Worker) idleSleep() time.Duration {
	min, max := w.cfg.IdleSleepMin(), w.cfg.IdleSleepMax()
	if max <= min {
		return min
	}
	return min + time.Duration(time.Now().UnixNano()%int64(max-min))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// processOne runs steps 3-7 of the crawl cycle for one claimed URL:
// rate-limit admission, robots policy, fetch, analysis, link enqueue,
// intelligence update, and completion.
func (w *Worker) processOne(ctx context.Context, rec store.URLRecord) {
	parsed, err := url.Parse(rec.URL)
	if err != nil {
		w.complete(ctx, rec.ID, queue.Outcome{Status: store.URLStatusError, ErrorMsg: err.Error(), FetchedAt: time.Now()})
		return
	}

	acquireResult := w.rateLimiter.Acquire(ctx, rec.Host)
	switch acquireResult.Outcome {
	case ratelimiter.AcquireCancelled:
		if relErr := w.queue.ReleaseLock(ctx, rec.ID); relErr != nil {
			w.recordError("Worker.processOne", &WorkerError{Message: relErr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
		}
		return
	case ratelimiter.AcquireRetryLater:
		if relErr := w.queue.ReleaseLock(ctx, rec.ID); relErr != nil {
			w.recordError("Worker.processOne", &WorkerError{Message: relErr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
		}
		return
	}

	decision, robotsErr := w.robot.Decide(*parsed)
	allowed := decision.Allowed || robotsErr != nil // robots.txt fetch failure fails open
	if decision.CrawlDelay > 0 {
		w.rateLimiter.SetCrawlDelay(rec.Host, decision.CrawlDelay)
	}
	if !allowed {
		w.complete(ctx, rec.ID, queue.Outcome{Status: store.URLStatusError, ErrorMsg: "disallowed by robots.txt", FetchedAt: time.Now()})
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout())
	fetchParam := fetcher.NewFetchParam(*parsed, w.cfg.UserAgent()).WithMaxBody(w.cfg.MaxBodyBytes())
	fetchResult, fetchErr := w.fetcher.Fetch(fetchCtx, rec.Depth, fetchParam, retryParam(w.cfg))
	cancel()

	if fetchErr != nil {
		w.onFetchFailure(ctx, rec, fetchErr)
		return
	}
	w.rateLimiter.OnResponse(rec.Host, fetchResult.Code(), 0)
	if _, ierr := w.intelligence.RecordFetchOutcome(ctx, rec.Host, fetchResult.Code(), ""); ierr != nil {
		w.recordError("Worker.processOne", &WorkerError{Message: ierr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
	}

	outcome := queue.Outcome{
		Status:        store.URLStatusDone,
		HTTPStatus:    fetchResult.Code(),
		ContentType:   fetchResult.ContentType(),
		ContentLength: int64(fetchResult.SizeByte()),
		FetchedAt:     fetchResult.FetchedAt(),
	}

	if isHTML(fetchResult.ContentType()) {
		w.analyzeAndEnqueue(ctx, rec, fetchResult, &outcome)
	}

	w.complete(ctx, rec.ID, outcome)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.HasPrefix(contentType, "text/html") || strings.HasPrefix(contentType, "application/xhtml+xml")
}

func (w *Worker) analyzeAndEnqueue(ctx context.Context, rec store.URLRecord, fetchResult fetcher.FetchResult, outcome *queue.Outcome) {
	analysisCtx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	state, _ := w.intelligence.Get(ctx, rec.Host)
	knownTemplates := make([]string, 0, len(state.Templates))
	for _, t := range state.Templates {
		knownTemplates = append(knownTemplates, t.Pattern)
	}

	result, analysisErr := w.analyzer.Analyze(fetchResult.FinalURL(), fetchResult.Body(), knownTemplates)
	if analysisCtx.Err() != nil {
		outcome.Status = store.URLStatusError
		outcome.ErrorMsg = "analysis_timeout"
		return
	}
	if analysisErr != nil {
		outcome.Status = store.URLStatusError
		outcome.ErrorMsg = analysisErr.Error()
		return
	}

	outcome.Title = result.Title
	outcome.WordCount = result.WordCount
	outcome.Classification = string(result.Classification)
	outcome.LinksFound = len(result.Links)

	if result.Classification == analyzer.ClassificationArticle {
		for _, t := range result.Templates {
			if _, terr := w.intelligence.ObserveTemplate(ctx, rec.Host, t.Pattern); terr != nil {
				w.recordError("Worker.analyzeAndEnqueue", &WorkerError{Message: terr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
			}
		}
	}

	priority := priorityFor(result.Classification)
	var links []store.DiscoveredLink
	for _, l := range result.Links {
		enqueued, err := w.queue.Enqueue(ctx, l.URL, rec.ID, rec.Depth+1, priority)
		if err != nil {
			w.recordError("Worker.analyzeAndEnqueue", &WorkerError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
			continue
		}
		if enqueued {
			links = append(links, store.DiscoveredLink{SourceURLID: rec.ID, TargetURL: l.URL, LinkText: l.Text, IsNavLink: l.IsNavLink})
		}
	}
	if len(links) > 0 {
		if err := w.store.InsertDiscoveredLinks(ctx, links); err != nil {
			w.recordError("Worker.analyzeAndEnqueue", &WorkerError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
		}
	}
}

// priorityFor maps a classification to dispatch priority: hubs surface
// more links sooner, articles are the crawl's primary yield, everything
// else is exploratory.
func priorityFor(c analyzer.Classification) store.Priority {
	switch c {
	case analyzer.ClassificationHub:
		return store.PriorityP1Hub
	case analyzer.ClassificationArticle:
		return store.PriorityP2Article
	default:
		return store.PriorityP3Discovered
	}
}

// onFetchFailure folds a failed fetch into the rate limiter's adaptive
// backoff and Intelligence's sliding windows before marking the URL.
// httpStatus is a representative sentinel (400/500) when the Fetcher
// only classified an HTTP error band rather than the exact code, which
// is all the 4xx-ratio fatal check needs.
func (w *Worker) onFetchFailure(ctx context.Context, rec store.URLRecord, fetchErr failure.ClassifiedError) {
	var fe *fetcher.FetchError
	cause := intelligence.FailureKind("")
	httpStatus := 0
	networkKind := ratelimiter.NetworkErrorTimeout

	if asFetchError(fetchErr, &fe) {
		switch fe.Cause {
		case fetcher.ErrCauseDNS:
			cause, networkKind = intelligence.FailureKindDNS, ratelimiter.NetworkErrorDNS
		case fetcher.ErrCauseTCPReset:
			cause, networkKind = intelligence.FailureKindTCPReset, ratelimiter.NetworkErrorTCPReset
		case fetcher.ErrCauseTLS:
			cause, networkKind = intelligence.FailureKindTLS, ratelimiter.NetworkErrorTLS
		case fetcher.ErrCauseTimeout:
			cause, networkKind = intelligence.FailureKindTimeout, ratelimiter.NetworkErrorTimeout
		case fetcher.ErrCauseHTTP4xx:
			httpStatus = 400
		case fetcher.ErrCauseHTTP5xx:
			httpStatus = 500
		}
	}

	w.rateLimiter.OnNetworkError(rec.Host, networkKind)
	if httpStatus > 0 {
		w.rateLimiter.OnResponse(rec.Host, httpStatus, 0)
	}
	if _, ierr := w.intelligence.RecordFetchOutcome(ctx, rec.Host, httpStatus, cause); ierr != nil {
		w.recordError("Worker.onFetchFailure", &WorkerError{Message: ierr.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
	}

	status := store.URLStatusError
	if fetchErr.Severity() == failure.SeverityFatal {
		status = store.URLStatusDead
	}
	w.complete(ctx, rec.ID, queue.Outcome{Status: status, ErrorMsg: fetchErr.Error(), FetchedAt: time.Now()})
}

func asFetchError(err failure.ClassifiedError, target **fetcher.FetchError) bool {
	fe, ok := err.(*fetcher.FetchError)
	if !ok {
		return false
	}
	*target = fe
	return true
}

func (w *Worker) complete(ctx context.Context, id string, outcome queue.Outcome) {
	if err := w.queue.Complete(ctx, id, outcome); err != nil {
		w.recordError("Worker.complete", &WorkerError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure})
	}
}

func (w *Worker) recordError(action string, err *WorkerError) {
	w.metadataSink.RecordError(time.Now(), "worker", action, mapWorkerErrorToMetadataCause(err), err.Error(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrDomain, w.domain),
	})
}
