package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/metabench/crawlfleet/internal/fetcher"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/retry"
	"github.com/metabench/crawlfleet/pkg/timeutil"
)

type mockMetadataSink struct {
	fetchEvents []fetchEvent
	errorEvents []errorEvent
}

type fetchEvent struct {
	fetchUrl    string
	httpStatus  int
	contentType string
	crawlDepth  int
}

type errorEvent struct {
	packageName string
	cause       metadata.ErrorCause
	details     string
}

func (m *mockMetadataSink) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	m.fetchEvents = append(m.fetchEvents, fetchEvent{fetchUrl: fetchUrl, httpStatus: httpStatus, contentType: contentType, crawlDepth: crawlDepth})
}

func (m *mockMetadataSink) RecordAssetFetch(fetchUrl string, httpStatus int, duration time.Duration, retryCount int) {
}

func (m *mockMetadataSink) RecordError(observedAt time.Time, packageName string, action string, cause metadata.ErrorCause, details string, attrs []metadata.Attribute) {
	m.errorEvents = append(m.errorEvents, errorEvent{packageName: packageName, cause: cause, details: details})
}

func (m *mockMetadataSink) RecordArtifact(kind metadata.ArtifactKind, path string, attrs []metadata.Attribute) {
}

func testRetryParam(maxAttempts int) retry.RetryParam {
	return retry.NewRetryParam(
		10*time.Millisecond, 5*time.Millisecond, 42, maxAttempts,
		timeutil.NewBackoffParam(10*time.Millisecond, 2.0, 100*time.Millisecond),
	)
}

func TestHtmlFetcher_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>Hello World</body></html>"))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	result, err := f.Fetch(context.Background(), 0, param, testRetryParam(3))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Code() != http.StatusOK {
		t.Errorf("expected status 200, got %d", result.Code())
	}
	if string(result.Body()) != "<html><body>Hello World</body></html>" {
		t.Errorf("unexpected body: %s", result.Body())
	}
	if result.Truncated() {
		t.Error("expected not truncated")
	}
	if len(sink.fetchEvents) != 1 {
		t.Fatalf("expected 1 fetch event, got %d", len(sink.fetchEvents))
	}
}

func TestHtmlFetcher_Fetch_ContentTypeSniffFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// deliberately omit Content-Type
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>No declared type</body></html>"))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	result, err := f.Fetch(context.Background(), 0, param, testRetryParam(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ContentType() == "" {
		t.Error("expected sniffed content type to be non-empty")
	}
}

func TestHtmlFetcher_Fetch_BodyTruncatedAtCap(t *testing.T) {
	large := make([]byte, 2048)
	for i := range large {
		large[i] = 'a'
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write(large)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0").WithMaxBody(1024)

	result, err := f.Fetch(context.Background(), 0, param, testRetryParam(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Truncated() {
		t.Error("expected truncated flag to be set")
	}
	if len(result.Body()) != 1024 {
		t.Errorf("expected body capped at 1024 bytes, got %d", len(result.Body()))
	}
}

func TestHtmlFetcher_Fetch_ServerErrorIsRetryable(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	_, err := f.Fetch(context.Background(), 0, param, testRetryParam(3))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if attempts < 2 {
		t.Errorf("expected retry to re-attempt a 5xx response, got %d attempts", attempts)
	}
	if len(sink.errorEvents) == 0 {
		t.Error("expected error to be recorded")
	}
}

func TestHtmlFetcher_Fetch_ClientErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	_, err := f.Fetch(context.Background(), 0, param, testRetryParam(3))
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if attempts != 1 {
		t.Errorf("expected a 4xx to not be retried, got %d attempts", attempts)
	}
}

func TestHtmlFetcher_Fetch_SameOriginRedirectFollowed(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, server.URL+"/end", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>final</html>"))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL + "/start")
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	result, err := f.Fetch(context.Background(), 0, param, testRetryParam(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.CrossOriginRedirect() {
		t.Error("expected same-origin redirect to not be flagged cross-origin")
	}
	if result.FinalURL().Path != "/end" {
		t.Errorf("expected final URL path /end, got %s", result.FinalURL().Path)
	}
}

func TestHtmlFetcher_Fetch_TooManyRedirects(t *testing.T) {
	var server *httptest.Server
	hops := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, server.URL+"/next", http.StatusFound)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL + "/start")
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0")

	_, err := f.Fetch(context.Background(), 0, param, testRetryParam(1))
	if err == nil {
		t.Fatal("expected error for a redirect loop")
	}
}

func TestHtmlFetcher_Fetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHtmlFetcher(sink)

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-agent/1.0").WithTimeout(5 * time.Millisecond)

	_, err := f.Fetch(context.Background(), 0, param, testRetryParam(1))
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
