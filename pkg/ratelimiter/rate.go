// Package ratelimiter implements a per-host token bucket with burst
// capacity and adaptive refill-rate backoff on server-signaled throttling,
// per the RateLimiter component contract.
//
// Responsibilities:
//   - Bookkeep each host's token bucket and last-served ticket.
//   - Admit waiters strictly in arrival order (fair FIFO per host); across
//     hosts, acquisitions are independent and may proceed in parallel.
//   - Adapt refill rate on 429/503 (decrease by DecreaseFactor) and on
//     sustained 2xx recovery (increase by IncreaseFactor, capped at a
//     ceiling), and apply exponential backoff on network errors.
package ratelimiter

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/metabench/crawlfleet/pkg/timeutil"
)

type RateLimiter struct {
	mu    sync.RWMutex
	rngMu sync.Mutex

	param AdaptiveParam
	rng   *rand.Rand

	hosts map[string]*hostState
}

func NewRateLimiter(param AdaptiveParam) *RateLimiter {
	return &RateLimiter{
		param: param,
		rng:   rand.New(rand.NewSource(param.RandomSeed)),
		hosts: make(map[string]*hostState),
	}
}

// SetRNG allows injecting a deterministic random source for tests.
func (r *RateLimiter) SetRNG(rng *rand.Rand) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rng
}

func (r *RateLimiter) jitter() time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return timeutil.ComputeJitter(r.param.Jitter, *r.rng)
}

func (r *RateLimiter) getOrCreateHost(host string) *hostState {
	r.mu.RLock()
	h, ok := r.hosts[host]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[host]; ok {
		return h
	}
	h = newHostState(r.param)
	r.hosts[host] = h
	return h
}

// SetCrawlDelay records a minimum per-request spacing for host, typically
// sourced from robots.txt's Crawl-delay directive.
func (r *RateLimiter) SetCrawlDelay(host string, delay time.Duration) {
	h := r.getOrCreateHost(host)
	h.mu.Lock()
	h.crawlDelay = delay
	h.mu.Unlock()
}

// Acquire blocks the calling goroutine until a token is available for host
// or ctx is cancelled. If the host is currently suspended (backing off from
// a 429/503 or a network error), it returns immediately with
// AcquireRetryLater and the instant at which the suspension lifts, so the
// caller can try a different host rather than block.
func (r *RateLimiter) Acquire(ctx context.Context, host string) AcquireResult {
	h := r.getOrCreateHost(host)

	h.mu.Lock()
	if until := h.suspendedUntil; until.After(time.Now()) {
		h.mu.Unlock()
		return AcquireResult{Outcome: AcquireRetryLater, ResumeAt: until}
	}
	h.mu.Unlock()

	ticket := h.takeTicket()
	if err := h.waitForTurn(ctx, ticket); err != nil {
		return AcquireResult{Outcome: AcquireCancelled}
	}
	defer h.advanceTurn()

	for {
		if err := ctx.Err(); err != nil {
			return AcquireResult{Outcome: AcquireCancelled}
		}

		h.mu.Lock()
		h.refillLocked()

		minSpacing := h.minSpacingLocked()
		sinceLastFetch := time.Since(h.lastFetch)

		needSpacingWait := !h.lastFetch.IsZero() && sinceLastFetch < minSpacing
		needTokenWait := h.tokens < 1

		if !needSpacingWait && !needTokenWait {
			h.tokens -= 1
			h.lastFetch = time.Now()
			h.mu.Unlock()
			return AcquireResult{Outcome: AcquireGranted}
		}

		var wait time.Duration
		if needSpacingWait {
			wait = minSpacing - sinceLastFetch
		}
		if needTokenWait && h.refillRate > 0 {
			tokenWait := time.Duration(((1 - h.tokens) / h.refillRate) * float64(time.Second))
			if tokenWait > wait {
				wait = tokenWait
			}
		}
		h.mu.Unlock()

		if wait <= 0 {
			continue
		}
		wait += r.jitter()

		select {
		case <-ctx.Done():
			return AcquireResult{Outcome: AcquireCancelled}
		case <-time.After(wait):
		}
	}
}

// minSpacingLocked returns the minimum interval between grants, the larger
// of the configured crawl delay and one token's worth of refill time.
// Caller must hold h.mu.
func (h *hostState) minSpacingLocked() time.Duration {
	if h.refillRate <= 0 {
		return h.crawlDelay
	}
	perToken := time.Duration(float64(time.Second) / h.refillRate)
	if h.crawlDelay > perToken {
		return h.crawlDelay
	}
	return perToken
}

// refillLocked adds tokens accrued since lastRefill. Caller must hold h.mu.
func (h *hostState) refillLocked() {
	now := time.Now()
	if h.lastRefill.IsZero() {
		h.lastRefill = now
		return
	}
	elapsed := now.Sub(h.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	h.tokens = math.Min(h.capacity, h.tokens+elapsed*h.refillRate)
	h.lastRefill = now
}

func (h *hostState) takeTicket() uint64 {
	h.ticketMu.Lock()
	defer h.ticketMu.Unlock()
	t := h.nextTicket
	h.nextTicket++
	return t
}

// waitForTurn blocks until ticket is the next to be served, or ctx is
// cancelled. Admission order across waiters is strictly by ticket number
// (arrival order), giving fair FIFO per host.
func (h *hostState) waitForTurn(ctx context.Context, ticket uint64) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			h.ticketMu.Lock()
			h.cond.Broadcast()
			h.ticketMu.Unlock()
		case <-done:
		}
	}()

	h.ticketMu.Lock()
	defer h.ticketMu.Unlock()
	for h.serving != ticket {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.cond.Wait()
	}
	return nil
}

func (h *hostState) advanceTurn() {
	h.ticketMu.Lock()
	h.serving++
	h.cond.Broadcast()
	h.ticketMu.Unlock()
}

// OnResponse adapts the host's refill rate to a server's observed status
// code. A 429 or 503 suspends new acquisitions until retryAfter elapses (or
// immediately if retryAfter is zero) and decreases the refill rate by
// DecreaseFactor; a 2xx status nudges the refill rate back up by
// IncreaseFactor, capped at BaseRefillRate*CeilingMultiplier.
func (r *RateLimiter) OnResponse(host string, status int, retryAfter time.Duration) {
	h := r.getOrCreateHost(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case status == 429 || status == 503:
		h.refillRate = math.Max(r.param.MinRefillRate, h.refillRate*r.param.DecreaseFactor)
		if retryAfter > 0 {
			h.suspendedUntil = time.Now().Add(retryAfter)
		}
	case status >= 200 && status < 300:
		ceiling := r.param.BaseRefillRate * r.param.CeilingMultiplier
		h.refillRate = math.Min(ceiling, h.refillRate*r.param.IncreaseFactor)
		h.networkBackoffCount = 0
	}
}

// OnNetworkError applies exponential backoff (per the configured
// NetworkBackoff parameters) specific to host, suspending new acquisitions
// until the backoff elapses. The counter resets on the next successful
// OnResponse(host, 2xx, ...) call.
func (r *RateLimiter) OnNetworkError(host string, kind NetworkErrorKind) {
	h := r.getOrCreateHost(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.networkBackoffCount++

	r.rngMu.Lock()
	rng := *r.rng
	r.rngMu.Unlock()

	delay := timeutil.ExponentialBackoffDelay(h.networkBackoffCount, r.param.Jitter, rng, r.param.NetworkBackoff)
	h.suspendedUntil = time.Now().Add(delay)
}
