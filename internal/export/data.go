package export

import (
	"time"

	"github.com/metabench/crawlfleet/internal/store"
)

// BatchQuery selects an export window. Window, when set, derives Until=now
// and Since=Until-Window, overriding explicit Since/Until.
type BatchQuery struct {
	Since  time.Time
	Until  time.Time
	Window time.Duration
	Limit  int
}

// Window is the resolved, concrete time range a Payload was computed over.
type Window struct {
	Since time.Time
	Until time.Time
}

type Counts struct {
	URLs  int
	Links int
}

// Payload is the ExportPipeline's batch response: a watermark-delimited
// slice of URL rows, discovered links, and per-domain intelligence,
// self-describing enough for a consumer to detect truncation and resume.
type Payload struct {
	BatchID      string
	Window       Window
	Watermark    time.Time
	Counts       Counts
	URLs         []store.URLRecord
	Links        []store.DiscoveredLink
	Intelligence store.IntelligenceState
	Run          *store.CrawlRun
}
