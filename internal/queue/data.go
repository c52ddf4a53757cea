package queue

import (
	"time"

	"github.com/metabench/crawlfleet/internal/store"
)

// Outcome is the mutable observation set Complete writes back onto a
// claimed URL record: the fields a Fetcher/Analyzer pass produces, not
// including bookkeeping fields the Store itself derives (updated_at).
type Outcome struct {
	Status         store.URLStatus
	HTTPStatus     int
	ContentType    string
	ContentLength  int64
	Title          string
	WordCount      int
	Classification string
	LinksFound     int
	ErrorMsg       string
	FetchedAt      time.Time
}
