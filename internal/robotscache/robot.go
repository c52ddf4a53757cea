package robotscache

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/robotscache/cache"
)

// negativeCacheTTL bounds how long a host stays in fail-open mode after a
// robots.txt fetch failure before the next Decide retries the fetch.
const negativeCacheTTL = 5 * time.Minute

// CachedRobot answers robots.txt permission decisions for one crawl's
// user-agent, memoizing the parsed ruleSet per host so repeated Decide
// calls against the same host only fetch robots.txt once (subject to the
// fetcher's own TTL cache). On fetch failure it fails open — Allowed is
// true and the failure is remembered for negativeCacheTTL so the host
// isn't re-fetched on every call.
type CachedRobot struct {
	fetcher   *RobotsFetcher
	sink      metadata.MetadataSink
	userAgent string

	mu       sync.Mutex
	rules    map[string]ruleSet
	failedAt map[string]time.Time
}

// NewCachedRobot builds a robot with an empty per-host rule memo and no
// fetcher; Init (a private 24h TTL cache) or InitWithCache (a shared
// cache across robots for multiple domains) attaches one before Decide.
func NewCachedRobot(sink metadata.MetadataSink) *CachedRobot {
	return &CachedRobot{sink: sink, rules: make(map[string]ruleSet), failedAt: make(map[string]time.Time)}
}

// Init attaches userAgent and a fresh, unshared fetch cache.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache(24*time.Hour))
}

// InitWithCache attaches userAgent and a caller-supplied Cache, letting
// multiple CachedRobot instances share one TTL cache.
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.sink, userAgent, c)
}

// Decide fetches (or reuses) robots.txt for u's host and applies the
// longest-match-wins rule. Hosts are keyed by u.Host, so a non-default
// port is kept when robots.txt is fetched. A fetch failure is recorded and
// fails open: the allowing decision is returned together with the error,
// since robots.txt unavailability must never block crawling.
func (r *CachedRobot) Decide(u url.URL) (Decision, error) {
	host := u.Host
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	r.mu.Lock()
	if rs, ok := r.rules[host]; ok {
		r.mu.Unlock()
		return rs.Decide(u), nil
	}
	if failedAt, ok := r.failedAt[host]; ok && time.Since(failedAt) < negativeCacheTTL {
		r.mu.Unlock()
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, nil
	}
	r.mu.Unlock()

	result, fetchErr := r.fetcher.Fetch(context.Background(), scheme, host)
	if fetchErr != nil {
		if r.sink != nil {
			r.sink.RecordError(time.Now(), "robotscache", "fetch", mapRobotsErrorToMetadataCause(fetchErr), fetchErr.Error(), []metadata.Attribute{
				metadata.NewAttr(metadata.AttrHost, host),
			})
		}
		r.mu.Lock()
		r.failedAt[host] = time.Now()
		r.mu.Unlock()
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, fetchErr
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)

	r.mu.Lock()
	r.rules[host] = rs
	delete(r.failedAt, host)
	r.mu.Unlock()

	return rs.Decide(u), nil
}
