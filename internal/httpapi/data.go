package httpapi

import "time"

// statsDTO mirrors spec.md's `stats:{done,total,pending,errors,rateLimited}`
// shape. rateLimited stays 0: the rate limiter holds suspension state
// in-memory only (pkg/ratelimiter) and exposes no per-host introspection
// for the HTTP surface to read without reaching past Worker's boundary.
type statsDTO struct {
	Done        int `json:"done"`
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Errors      int `json:"errors"`
	RateLimited int `json:"rateLimited"`
}

type fatalStateDTO struct {
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detectedAt"`
}

type statusDTO struct {
	IsRunning  bool           `json:"isRunning"`
	Stats      statsDTO       `json:"stats"`
	FatalState *fatalStateDTO `json:"fatalState,omitempty"`
}

type startRequest struct {
	MaxPages int `json:"maxPages,omitempty"`
}

type startResponse struct {
	Started bool `json:"started"`
}

type stopResponse struct {
	Stopping bool `json:"stopping"`
}

type seedRequest struct {
	URLs []string `json:"urls"`
}

type seedResponse struct {
	Inserted int `json:"inserted"`
}

type errorBucketDTO struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type errorsResponseDTO struct {
	Distribution []errorBucketDTO `json:"distribution"`
	FatalState   *fatalStateDTO   `json:"fatalState,omitempty"`
}

type templateDTO struct {
	Pattern       string  `json:"pattern"`
	VerifiedCount int     `json:"verifiedCount"`
	Confidence    float64 `json:"confidence"`
}

type intelligenceDTO struct {
	Domain               string          `json:"domain"`
	FailureCountsByKind  map[string]int  `json:"failureCountsByKind"`
	EconnresetCount      int             `json:"econnresetCount"`
	PuppeteerRecommended bool            `json:"puppeteerRecommended"`
	PuppeteerReason      string          `json:"puppeteerReason,omitempty"`
	FatalState           *fatalStateDTO  `json:"fatalState,omitempty"`
	Templates            []templateDTO   `json:"templates"`
	LastUpdatedAt        time.Time       `json:"lastUpdatedAt"`
}

type errorMessageDTO struct {
	Error string `json:"error"`
}
