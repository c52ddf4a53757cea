package metadata

import "time"

type FetchEvent struct {
	fetchUrl    string
	httpStatus  int
	duration    time.Duration
	contentType string
	retryCount  int
	crawlDepth  int
}

// ArtifactKind names the kind of artifact a sink recorded, e.g. a
// promoted URL template or an exported batch file.
type ArtifactKind string

const (
	ArtifactKindTemplate    ArtifactKind = "template"
	ArtifactKindExportBatch ArtifactKind = "export_batch"
)

type ArtifactRecord struct {
	kind  ArtifactKind
	path  string
	attrs []Attribute
}

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause is for observability only.
  - It must never be used to derive retry, continuation, or abort decisions.
  - ErrorCause values MUST have stable, package-agnostic semantics.
  - Pipeline packages MAY map their local errors to ErrorCause, but MUST
    NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST
be used.
*/
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

type ErrorRecord struct {
	packageName string
	action      string
	cause       ErrorCause
	errorString string
	observedAt  time.Time
	attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
	AttrDomain     AttributeKey = "domain"
	AttrReason     AttributeKey = "reason"
)
