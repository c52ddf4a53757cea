package ratelimiter

import (
	"sync"
	"time"

	"github.com/metabench/crawlfleet/pkg/timeutil"
)

// AdaptiveParam configures the per-host token bucket and its adaptive
// behavior on server signals.
type AdaptiveParam struct {
	Capacity          float64 // max burst tokens per host
	BaseRefillRate    float64 // tokens/sec under normal conditions
	CeilingMultiplier float64 // refill rate ceiling = BaseRefillRate * CeilingMultiplier
	DecreaseFactor    float64 // alpha: applied to refill rate on 429/503 (default 0.5)
	IncreaseFactor    float64 // beta: applied to refill rate on 2xx recovery (default 1.1)
	MinRefillRate     float64 // floor so a suspended host can still eventually recover
	Jitter            time.Duration
	RandomSeed        int64
	NetworkBackoff    timeutil.BackoffParam // base 1s, cap 60s per spec
}

// NewAdaptiveParam builds an AdaptiveParam with the given settings.
func NewAdaptiveParam(
	capacity float64,
	baseRefillRate float64,
	ceilingMultiplier float64,
	decreaseFactor float64,
	increaseFactor float64,
	minRefillRate float64,
	jitter time.Duration,
	randomSeed int64,
	networkBackoff timeutil.BackoffParam,
) AdaptiveParam {
	return AdaptiveParam{
		Capacity:          capacity,
		BaseRefillRate:    baseRefillRate,
		CeilingMultiplier: ceilingMultiplier,
		DecreaseFactor:    decreaseFactor,
		IncreaseFactor:    increaseFactor,
		MinRefillRate:     minRefillRate,
		Jitter:            jitter,
		RandomSeed:        randomSeed,
		NetworkBackoff:    networkBackoff,
	}
}

// NetworkErrorKind classifies the network failures OnNetworkError reacts to.
type NetworkErrorKind string

const (
	NetworkErrorTimeout  NetworkErrorKind = "timeout"
	NetworkErrorDNS      NetworkErrorKind = "dns"
	NetworkErrorTCPReset NetworkErrorKind = "tcp_reset"
	NetworkErrorTLS      NetworkErrorKind = "tls"
)

// AcquireOutcome is the disposition of an Acquire call.
type AcquireOutcome int

const (
	AcquireGranted AcquireOutcome = iota
	AcquireCancelled
	AcquireRetryLater
)

// AcquireResult carries the outcome of an Acquire call. ResumeAt is only
// meaningful when Outcome is AcquireRetryLater: the Worker may try a
// different host's URL until that instant rather than block.
type AcquireResult struct {
	Outcome  AcquireOutcome
	ResumeAt time.Time
}

// hostState is the token bucket and FIFO waiter ledger for a single host.
// All field access is guarded by mu; ticketMu/cond additionally serialize
// waiter admission order.
type hostState struct {
	mu sync.Mutex

	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	lastFetch  time.Time

	crawlDelay          time.Duration
	suspendedUntil      time.Time
	networkBackoffCount int

	ticketMu   sync.Mutex
	cond       *sync.Cond
	nextTicket uint64
	serving    uint64
}

func newHostState(param AdaptiveParam) *hostState {
	h := &hostState{
		tokens:     param.Capacity,
		capacity:   param.Capacity,
		refillRate: param.BaseRefillRate,
		lastRefill: time.Now(),
	}
	h.cond = sync.NewCond(&h.ticketMu)
	return h
}

func (h *hostState) CrawlDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.crawlDelay
}

func (h *hostState) RefillRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refillRate
}

func (h *hostState) SuspendedUntil() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspendedUntil
}

func (h *hostState) NetworkBackoffCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.networkBackoffCount
}
