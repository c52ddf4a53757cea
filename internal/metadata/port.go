package metadata

import "time"

// MetadataSink receives observational events from fetch, analyze, and
// storage packages. Implementations must not feed decisions back into
// the caller: a sink is write-only, for logging/metrics/reporting.
type MetadataSink interface {
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute)
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordAssetFetch(fetchUrl string, httpStatus int, duration time.Duration, retryCount int)
}
