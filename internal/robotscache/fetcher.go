package robotscache

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/robotscache/cache"
)

// RobotsFetcher fetches and parses robots.txt files from hosts, caching
// the parsed result behind a TTL-aware Cache.
type RobotsFetcher struct {
	httpClient *http.Client
	userAgent  string
	cache      cache.Cache
}

type RobotsFetchResult struct {
	Response    RobotsResponse
	FetchedAt   time.Time
	SourceURL   string
	HTTPStatus  int
	ContentType string
}

type cachedResult struct {
	Response    RobotsResponse `json:"response"`
	FetchedAt   time.Time      `json:"fetched_at"`
	SourceURL   string         `json:"source_url"`
	HTTPStatus  int            `json:"http_status"`
	ContentType string         `json:"content_type"`
}

func NewRobotsFetcher(metadataSink metadata.MetadataSink, userAgent string, cache cache.Cache) *RobotsFetcher {
	return &RobotsFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  userAgent,
		cache:      cache,
	}
}

func NewRobotsFetcherWithClient(metadataSink metadata.MetadataSink, userAgent string, httpClient *http.Client, cache cache.Cache) *RobotsFetcher {
	return &RobotsFetcher{httpClient: httpClient, userAgent: userAgent, cache: cache}
}

func cacheKey(scheme, hostname string) string {
	return fmt.Sprintf("%s://%s/robots.txt", scheme, hostname)
}

func serializeResult(result RobotsFetchResult) (string, error) {
	cached := cachedResult{
		Response: result.Response, FetchedAt: result.FetchedAt, SourceURL: result.SourceURL,
		HTTPStatus: result.HTTPStatus, ContentType: result.ContentType,
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func deserializeResult(data string) (RobotsFetchResult, error) {
	var cached cachedResult
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return RobotsFetchResult{}, err
	}
	return RobotsFetchResult{
		Response: cached.Response, FetchedAt: cached.FetchedAt, SourceURL: cached.SourceURL,
		HTTPStatus: cached.HTTPStatus, ContentType: cached.ContentType,
	}, nil
}

// Fetch retrieves robots.txt for hostname, checking the cache first. A
// positive result (reachable robots.txt, or a 4xx treated as "no
// restrictions") is cached with a long TTL; network/5xx failures are
// never cached since the caller should retry them.
func (f *RobotsFetcher) Fetch(ctx context.Context, scheme, hostname string) (RobotsFetchResult, *RobotsError) {
	if f.cache != nil {
		key := cacheKey(scheme, hostname)
		if cachedData, found := f.cache.Get(key); found {
			if result, err := deserializeResult(cachedData); err == nil {
				return result, nil
			}
		}
	}

	start := time.Now()
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, hostname)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("failed to create request: %v", err), Retryable: false, Cause: ErrCausePreFetchFailure}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain,text/html,*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("failed to fetch robots.txt: %v", err), Retryable: true, Cause: ErrCauseHttpFetchFailure}
	}
	defer resp.Body.Close()

	var result RobotsFetchResult
	var parsingError *RobotsError
	cacheable := false

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result, parsingError = f.parseSuccessfulResponse(resp, hostname, robotsURL)
		cacheable = true

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("redirect loop or too many redirects for %s", robotsURL), Retryable: true, Cause: ErrCauseHttpTooManyRedirects}

	case resp.StatusCode == 429:
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("rate limited (429) when fetching %s", robotsURL), Retryable: true, Cause: ErrCauseHttpTooManyRequests}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		result = RobotsFetchResult{
			Response:    RobotsResponse{Host: hostname, Sitemaps: []string{}, UserAgents: []UserAgentGroup{}},
			FetchedAt:   start,
			SourceURL:   robotsURL,
			HTTPStatus:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
		}
		cacheable = true

	case resp.StatusCode >= 500:
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("server error (%d) when fetching %s", resp.StatusCode, robotsURL), Retryable: true, Cause: ErrCauseHttpServerError}

	default:
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("unexpected status code %d for %s", resp.StatusCode, robotsURL), Retryable: true, Cause: ErrCauseHttpUnexpectedStatus}
	}

	if parsingError != nil {
		return RobotsFetchResult{}, parsingError
	}

	if cacheable && f.cache != nil {
		key := cacheKey(scheme, hostname)
		if cachedData, err := serializeResult(result); err == nil {
			f.cache.Put(key, cachedData)
		}
	}

	return result, nil
}

func (f *RobotsFetcher) parseSuccessfulResponse(resp *http.Response, hostname, sourceURL string) (RobotsFetchResult, *RobotsError) {
	const maxSize = 500 * 1024
	limitedReader := io.LimitReader(resp.Body, maxSize+1)

	content, err := io.ReadAll(limitedReader)
	if err != nil {
		return RobotsFetchResult{}, &RobotsError{Message: fmt.Sprintf("failed to read robots.txt body: %v", err), Retryable: true, Cause: ErrCauseParseError}
	}
	if len(content) > maxSize {
		content = content[:maxSize]
	}

	parsed := ParseRobotsTxt(string(content), hostname)
	return RobotsFetchResult{Response: parsed, FetchedAt: time.Now(), SourceURL: sourceURL, HTTPStatus: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}, nil
}

// ParseRobotsTxt parses robots.txt content into a structured format.
func ParseRobotsTxt(content, hostname string) RobotsResponse {
	response := RobotsResponse{Host: hostname, Sitemaps: []string{}, UserAgents: []UserAgentGroup{}}

	scanner := bufio.NewScanner(strings.NewReader(content))

	var currentGroup *UserAgentGroup
	var globalGroup UserAgentGroup
	hasGlobalGroup := false

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(line[:colonIdx]))
		value := strings.TrimSpace(line[colonIdx+1:])

		switch field {
		case "user-agent":
			if currentGroup == nil {
				currentGroup = &UserAgentGroup{UserAgents: []string{value}, Allows: []PathRule{}, Disallows: []PathRule{}}
			} else if len(currentGroup.Allows) == 0 && len(currentGroup.Disallows) == 0 && currentGroup.CrawlDelay == nil {
				currentGroup.UserAgents = append(currentGroup.UserAgents, value)
			} else {
				response.UserAgents = append(response.UserAgents, *currentGroup)
				currentGroup = &UserAgentGroup{UserAgents: []string{value}, Allows: []PathRule{}, Disallows: []PathRule{}}
			}

		case "allow":
			if currentGroup != nil {
				currentGroup.Allows = append(currentGroup.Allows, PathRule{Path: value})
			} else {
				globalGroup.Allows = append(globalGroup.Allows, PathRule{Path: value})
				hasGlobalGroup = true
			}

		case "disallow":
			if currentGroup != nil {
				currentGroup.Disallows = append(currentGroup.Disallows, PathRule{Path: value})
			} else {
				globalGroup.Disallows = append(globalGroup.Disallows, PathRule{Path: value})
				hasGlobalGroup = true
			}

		case "crawl-delay":
			if currentGroup != nil {
				var seconds float64
				if _, err := fmt.Sscanf(value, "%f", &seconds); err == nil && seconds >= 0 {
					delay := time.Duration(seconds * float64(time.Second))
					currentGroup.CrawlDelay = &delay
				}
			}

		case "sitemap":
			if value != "" {
				response.Sitemaps = append(response.Sitemaps, value)
			}
		}
	}

	if currentGroup != nil {
		if len(currentGroup.Allows) > 0 || len(currentGroup.Disallows) > 0 || currentGroup.CrawlDelay != nil || len(currentGroup.UserAgents) > 0 {
			response.UserAgents = append(response.UserAgents, *currentGroup)
		}
	}

	if hasGlobalGroup && (len(globalGroup.Allows) > 0 || len(globalGroup.Disallows) > 0) {
		globalGroup.UserAgents = []string{"*"}
		response.UserAgents = append([]UserAgentGroup{globalGroup}, response.UserAgents...)
	}

	return response
}

func (f *RobotsFetcher) UserAgent() string      { return f.userAgent }
func (f *RobotsFetcher) HttpClient() *http.Client { return f.httpClient }
func (f *RobotsFetcher) Cache() cache.Cache     { return f.cache }
