package store

import "time"

// URLStatus is the lifecycle state of a URL record.
type URLStatus string

const (
	URLStatusPending  URLStatus = "pending"
	URLStatusFetching URLStatus = "fetching"
	URLStatusDone     URLStatus = "done"
	URLStatusError    URLStatus = "error"
	URLStatusDead     URLStatus = "dead"
)

// Priority is the Queue dispatch priority: lower values dispatch first.
type Priority int

const (
	PriorityP0Seed       Priority = 0
	PriorityP1Hub        Priority = 1
	PriorityP2Article    Priority = 2
	PriorityP3Discovered Priority = 3
)

// URLRecord is the primary crawl entity.
type URLRecord struct {
	ID             string
	URL            string
	Host           string
	Path           string
	Status         URLStatus
	HTTPStatus     int
	ContentType    string
	ContentLength  int64
	Title          string
	WordCount      int
	Classification string
	Depth          int
	DiscoveredFrom string
	LinksFound     int
	Priority       Priority
	LockedBy       string
	LockedAt       time.Time
	ReclaimCount   int
	ErrorMsg       string
	FetchedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiscoveredLink records an outbound link found during analysis.
type DiscoveredLink struct {
	ID          string
	SourceURLID string
	TargetURL   string
	LinkText    string
	IsNavLink   bool
	CreatedAt   time.Time
}

// RunStatus is the lifecycle state of a CrawlRun.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusStopping RunStatus = "stopping"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusFailed   RunStatus = "failed"
)

// CrawlRun is the record of one worker lifecycle for a domain.
type CrawlRun struct {
	ID            string
	TargetDomain  string
	StartedAt     time.Time
	EndedAt       time.Time
	TotalFetched  int
	TotalErrors   int
	Status        RunStatus
}

// LogEntry is an append-only structured log record kept in the crawl_log
// table (AppendLog / RecentLogs).
type LogEntry struct {
	ID      int64
	RunID   string
	Level   string
	Message string
	Data    string
	Ts      time.Time
}

// FatalReason names why a domain's Intelligence has gone fatal. The total
// order NONE < CONNECTIVITY < BLOCKED_OR_EMPTY < WATCHDOG_EXHAUSTED governs
// merges: a more severe reason always wins.
type FatalReason int

const (
	FatalNone FatalReason = iota
	FatalConnectivity
	FatalBlockedOrEmpty
	FatalWatchdogExhausted
)

func (f FatalReason) String() string {
	switch f {
	case FatalConnectivity:
		return "CONNECTIVITY"
	case FatalBlockedOrEmpty:
		return "BLOCKED_OR_EMPTY"
	case FatalWatchdogExhausted:
		return "WATCHDOG_EXHAUSTED"
	default:
		return "NONE"
	}
}

// FatalState is the nullable fatal-state record on IntelligenceState.
type FatalState struct {
	Reason     FatalReason
	Message    string
	DetectedAt time.Time
}

// Template is a promoted URL pattern such as "/world/{slug}".
type Template struct {
	Pattern       string
	VerifiedCount int
	Confidence    float64
}

// IntelligenceState is the single per-domain intelligence row.
type IntelligenceState struct {
	Domain               string
	FailureCountsByKind  map[string]int
	EconnresetCount      int
	PuppeteerRecommended bool
	PuppeteerReason      string
	FatalState           *FatalState
	Templates            []Template
	LastUpdatedAt        time.Time
}
