package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
	"github.com/metabench/crawlfleet/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests with a bounded redirect chain (same-origin
  redirects retain the link, cross-origin redirects are still followed
  but flagged).
- Apply headers and per-request timeouts via context deadline.
- Cap response bodies, truncating rather than erroring past the limit.
- Sniff content-type from headers, falling back to magic bytes.
- Classify failures into the typed FetchErrorCause table.

The fetcher never parses content; it only returns bytes and metadata.
*/

const maxRedirects = 5

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
}

func NewHtmlFetcher(metadataSink metadata.MetadataSink) HtmlFetcher {
	f := HtmlFetcher{metadataSink: metadataSink}
	f.Init(&http.Client{})
	return f
}

// Init attaches httpClient, wrapping its CheckRedirect so redirect
// chains are bounded at maxRedirects and cross-origin hops are tracked.
func (h *HtmlFetcher) Init(httpClient *http.Client) {
	client := *httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w", errTooManyRedirects)
		}
		return nil
	}
	h.httpClient = &client
}

var errTooManyRedirects = errors.New("too many redirects")

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, err := h.fetchWithRetry(ctx, fetchParam, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	var retryCount int

	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			retryCount = retryParam.MaxAttempts
		}
	} else {
		statusCode = result.Code()
		contentType = result.ContentType()
	}

	h.metadataSink.RecordFetch(fetchParam.fetchUrl.String(), statusCode, duration, contentType, retryCount, crawlDepth)

	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, err)
		}
		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(), "fetcher", callerMethod,
			mapFetchErrorToMetadataCause(fetchError), err.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, fetchUrl.String())},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(), "fetcher", callerMethod,
			metadata.CauseNetworkFailure, err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrReason, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchParam FetchParam, retryParam retry.RetryParam) (FetchResult, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam)
	}

	res := retry.Retry(retryParam, fetchTask)
	if res.IsFailure() {
		retryErr := res.Err()
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, fetchErr
		}
		return FetchResult{}, retryErr
	}
	return res.Value(), nil
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	fetchUrl := fetchParam.fetchUrl
	start := time.Now()

	timeout := fetchParam.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("failed to create request: %v", err), Retryable: false, Cause: ErrCauseMalformed, URL: fetchUrl.String(), Elapsed: time.Since(start)}
	}
	for key, value := range requestHeaders(fetchParam.userAgent) {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, classifyTransportError(err, fetchUrl, start)
	}
	defer resp.Body.Close()

	finalUrl := fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		finalUrl = *resp.Request.URL
	}
	crossOrigin := !strings.EqualFold(finalUrl.Hostname(), fetchUrl.Hostname())

	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("server error: %d", resp.StatusCode), Retryable: true, Cause: ErrCauseHTTP5xx, URL: fetchUrl.String(), Elapsed: time.Since(start)}
	case resp.StatusCode >= 400:
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("client error: %d", resp.StatusCode), Retryable: false, Cause: ErrCauseHTTP4xx, URL: fetchUrl.String(), Elapsed: time.Since(start)}
	}

	maxBody := fetchParam.maxBody
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, maxBody+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("failed to read response body: %v", err), Retryable: true, Cause: ErrCauseNetwork, URL: fetchUrl.String(), Elapsed: time.Since(start), BytesRead: int64(len(body))}
	}
	truncated := false
	if int64(len(body)) > maxBody {
		body = body[:maxBody]
		truncated = true
	}

	contentType := sniffContentType(resp.Header.Get("Content-Type"), body)

	responseHeaders := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	return FetchResult{
		url:         fetchUrl,
		finalUrl:    finalUrl,
		body:        body,
		fetchedAt:   start,
		timing:      time.Since(start),
		truncated:   truncated,
		crossOrigin: crossOrigin,
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			contentType:     contentType,
			responseHeaders: responseHeaders,
		},
	}, nil
}

// classifyTransportError maps Go's transport-layer errors onto the
// typed FetchErrorCause table.
func classifyTransportError(err error, fetchUrl url.URL, start time.Time) *FetchError {
	elapsed := time.Since(start)

	if errors.Is(err, errTooManyRedirects) || (func() bool {
		var urlErr *url.Error
		return errors.As(err, &urlErr) && errors.Is(urlErr.Err, errTooManyRedirects)
	}()) {
		return &FetchError{Message: "exceeded redirect limit", Retryable: false, Cause: ErrCauseTooManyRedirects, URL: fetchUrl.String(), Elapsed: elapsed}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &FetchError{Message: "request timed out", Retryable: true, Cause: ErrCauseTimeout, URL: fetchUrl.String(), Elapsed: elapsed}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{Message: dnsErr.Error(), Retryable: !dnsErr.IsNotFound, Cause: ErrCauseDNS, URL: fetchUrl.String(), Elapsed: elapsed}
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return &FetchError{Message: tlsErr.Error(), Retryable: false, Cause: ErrCauseTLS, URL: fetchUrl.String(), Elapsed: elapsed}
	}
	if strings.Contains(strings.ToLower(err.Error()), "tls") || strings.Contains(strings.ToLower(err.Error()), "certificate") {
		return &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseTLS, URL: fetchUrl.String(), Elapsed: elapsed}
	}

	if errors.Is(err, syscall.ECONNRESET) {
		return &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseTCPReset, URL: fetchUrl.String(), Elapsed: elapsed}
	}

	return &FetchError{Message: fmt.Sprintf("request failed: %v", err), Retryable: true, Cause: ErrCauseNetwork, URL: fetchUrl.String(), Elapsed: elapsed}
}

// sniffContentType trusts the declared Content-Type header when
// present and well-formed; otherwise it falls back to a magic-byte
// check over the first bytes of body.
func sniffContentType(declared string, body []byte) string {
	if declared != "" {
		return declared
	}
	return http.DetectContentType(body)
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
