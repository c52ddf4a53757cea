package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

type FetchParam struct {
	fetchUrl  url.URL
	userAgent string
	timeout   time.Duration
	maxBody   int64
}

// NewFetchParam builds a FetchParam with the default 30s timeout and
// 10 MiB body cap.
func NewFetchParam(fetchUrl url.URL, userAgent string) FetchParam {
	return FetchParam{
		fetchUrl:  fetchUrl,
		userAgent: userAgent,
		timeout:   30 * time.Second,
		maxBody:   10 * 1024 * 1024,
	}
}

func (p FetchParam) WithTimeout(d time.Duration) FetchParam {
	p.timeout = d
	return p
}

func (p FetchParam) WithMaxBody(n int64) FetchParam {
	p.maxBody = n
	return p
}

type FetchResult struct {
	url         url.URL
	finalUrl    url.URL
	body        []byte
	meta        ResponseMeta
	fetchedAt   time.Time
	timing      time.Duration
	truncated   bool
	crossOrigin bool
}

func (f *FetchResult) URL() url.URL      { return f.url }
func (f *FetchResult) FinalURL() url.URL { return f.finalUrl }
func (f *FetchResult) Body() []byte      { return f.body }
func (f *FetchResult) Code() int         { return f.meta.statusCode }
func (f *FetchResult) SizeByte() uint64  { return uint64(len(f.body)) }
func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}
func (f *FetchResult) ContentType() string      { return f.meta.contentType }
func (f *FetchResult) FetchedAt() time.Time     { return f.fetchedAt }
func (f *FetchResult) Timing() time.Duration    { return f.timing }
func (f *FetchResult) Truncated() bool          { return f.truncated }
func (f *FetchResult) CrossOriginRedirect() bool { return f.crossOrigin }

type ResponseMeta struct {
	statusCode      int
	contentType     string
	responseHeaders map[string]string
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	fetchUrl url.URL,
	finalUrl url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
	truncated bool,
	crossOrigin bool,
) FetchResult {
	return FetchResult{
		url:         fetchUrl,
		finalUrl:    finalUrl,
		body:        body,
		fetchedAt:   fetchedAt,
		truncated:   truncated,
		crossOrigin: crossOrigin,
		meta: ResponseMeta{
			statusCode:      statusCode,
			contentType:     contentType,
			responseHeaders: responseHeaders,
		},
	}
}
