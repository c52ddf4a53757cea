/*
Package export implements the watermark-driven incremental export
protocol: a consumer repeatedly calls Batch with since=<last watermark>
and walks forward without re-shipping unchanged rows. Batch never
blocks Worker writes — internal/store's snapshot reads run under the
database's own isolation, not a pipeline-held lock.
*/
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/pkg/hashutil"
)

const defaultLimit = 5000

type Pipeline struct {
	store  *store.Store
	domain string
}

func NewPipeline(s *store.Store, domain string) Pipeline {
	return Pipeline{store: s, domain: domain}
}

// Batch resolves q against the Store and returns one export payload.
// A Window takes precedence over explicit Since/Until, matching the
// contract's "if window is set, until=now and since=until-window".
func (p Pipeline) Batch(ctx context.Context, q BatchQuery) (Payload, *ExportError) {
	until := q.Until
	since := q.Since
	if q.Window > 0 {
		until = time.Now()
		since = until.Add(-q.Window)
	}
	if until.IsZero() {
		until = time.Now()
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	urls, err := p.store.SnapshotURLs(ctx, since, until, limit)
	if err != nil {
		return Payload{}, &ExportError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	links, err := p.store.SnapshotLinks(ctx, since, until, limit)
	if err != nil {
		return Payload{}, &ExportError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	intel, _, err := p.store.GetIntelligence(ctx, p.domain)
	if err != nil {
		return Payload{}, &ExportError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}

	var run *store.CrawlRun
	if activeRun, ok, err := p.store.GetActiveCrawlRun(ctx, p.domain); err != nil {
		return Payload{}, &ExportError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	} else if ok {
		run = &activeRun
	}

	watermark := until
	if len(urls) > 0 {
		var maxUpdated time.Time
		for _, u := range urls {
			if u.UpdatedAt.After(maxUpdated) {
				maxUpdated = u.UpdatedAt
			}
		}
		watermark = maxUpdated
	}

	batchID, hashErr := hashutil.HashBytes([]byte(fmt.Sprintf("%s|%s|%s|%d", p.domain, since.Format(time.RFC3339Nano), until.Format(time.RFC3339Nano), len(urls))), hashutil.HashAlgoBLAKE3)
	if hashErr != nil {
		return Payload{}, &ExportError{Message: hashErr.Error(), Retryable: false, Cause: ErrCauseStoreFailure}
	}

	return Payload{
		BatchID:      batchID,
		Window:       Window{Since: since, Until: until},
		Watermark:    watermark,
		Counts:       Counts{URLs: len(urls), Links: len(links)},
		URLs:         urls,
		Links:        links,
		Intelligence: intel,
		Run:          run,
	}, nil
}
