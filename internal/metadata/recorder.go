package metadata

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Allowed:
- Primitive values, timestamps, URLs as values, hashes, status codes,
  durations, identifiers.
*/

import (
	"time"

	"github.com/rs/zerolog"
)

// Recorder is the zerolog-backed MetadataSink every worker wires up: each
// event becomes one structured log line, tagged with package/action/cause
// fields.
type Recorder struct {
	logger zerolog.Logger
}

func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute) {
	event := r.logger.Warn().
		Time("observed_at", observedAt).
		Str("package", packageName).
		Str("action", action).
		Int("cause", int(cause)).
		Str("details", details)
	for _, a := range attrs {
		event = event.Str(string(a.Key), a.Value)
	}
	event.Msg("metadata error")
}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.logger.Debug().
		Str("url", fetchUrl).
		Int("http_status", httpStatus).
		Dur("duration", duration).
		Str("content_type", contentType).
		Int("retry_count", retryCount).
		Int("crawl_depth", crawlDepth).
		Msg("metadata fetch")
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	event := r.logger.Info().Str("kind", string(kind)).Str("path", path)
	for _, a := range attrs {
		event = event.Str(string(a.Key), a.Value)
	}
	event.Msg("metadata artifact")
}

func (r *Recorder) RecordAssetFetch(fetchUrl string, httpStatus int, duration time.Duration, retryCount int) {
	r.logger.Debug().
		Str("asset_url", fetchUrl).
		Int("http_status", httpStatus).
		Dur("duration", duration).
		Int("retry_count", retryCount).
		Msg("metadata asset fetch")
}

var _ MetadataSink = (*Recorder)(nil)
