// Package intelligence tracks per-domain failure signatures and adapts
// crawl strategy: ECONNRESET pressure recommending headless rendering,
// connectivity/blocked fatal-state detection, and fleet-wide merge of
// platform-provided intelligence payloads. It is the sliding-window
// logic sitting atop internal/store's persisted IntelligenceState.
package intelligence

import (
	"context"
	"sync"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/store"
)

type Intelligence struct {
	store *store.Store
	cfg   config.Config

	mu      sync.Mutex
	windows map[string]*domainWindow
}

func NewIntelligence(s *store.Store, cfg config.Config) *Intelligence {
	return &Intelligence{store: s, cfg: cfg, windows: make(map[string]*domainWindow)}
}

func (in *Intelligence) windowFor(domain string) *domainWindow {
	in.mu.Lock()
	defer in.mu.Unlock()
	w, ok := in.windows[domain]
	if !ok {
		w = &domainWindow{}
		in.windows[domain] = w
	}
	return w
}

// RecordFetchOutcome folds one fetch's result into domain's sliding
// windows and persists the derived IntelligenceState. httpStatus is 0
// for a transport failure that never reached a response. cause is the
// empty string on success.
func (in *Intelligence) RecordFetchOutcome(ctx context.Context, domain string, httpStatus int, cause FailureKind) (store.IntelligenceState, error) {
	now := time.Now()
	w := in.windowFor(domain)

	in.mu.Lock()
	if cause == FailureKindTCPReset {
		w.econnresetAt = append(w.econnresetAt, now)
	}
	if cause == FailureKindDNS || cause == FailureKindTLS {
		w.connectivityFail = append(w.connectivityFail, now)
	}
	if httpStatus > 0 {
		w.statuses = append(w.statuses, statusSample{status: httpStatus, at: now})
		if len(w.statuses) > in.cfg.HTTP4xxSampleSize() {
			w.statuses = w.statuses[len(w.statuses)-in.cfg.HTTP4xxSampleSize():]
		}
	}

	w.econnresetAt = w.pruneBefore(w.econnresetAt, now.Add(-in.cfg.EconnresetWindow()))
	w.connectivityFail = w.pruneBefore(w.connectivityFail, now.Add(-in.cfg.ConnectivityFailWindow()))

	econnresetCount := len(w.econnresetAt)
	connectivityFailCount := len(w.connectivityFail)

	var fourXX, total int
	for _, s := range w.statuses {
		total++
		if s.status >= 400 && s.status < 500 {
			fourXX++
		}
	}
	in.mu.Unlock()

	state, _, err := in.store.GetIntelligence(ctx, domain)
	if err != nil {
		return store.IntelligenceState{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	if state.Domain == "" {
		state.Domain = domain
	}
	if state.FailureCountsByKind == nil {
		state.FailureCountsByKind = map[string]int{}
	}
	if cause != "" {
		state.FailureCountsByKind[string(cause)]++
	}
	state.EconnresetCount = econnresetCount

	if econnresetCount > in.cfg.EconnresetThreshold() {
		state.PuppeteerRecommended = true
		state.PuppeteerReason = puppeteerReason
	}

	if connectivityFailCount >= in.cfg.ConnectivityFailMinTries() {
		raiseFatal(&state, store.FatalConnectivity, "connectivity failures persisted across the configured window", now)
	}
	if total >= in.cfg.HTTP4xxSampleSize() && float64(fourXX)/float64(total) > in.cfg.HTTP4xxRatioThreshold() {
		raiseFatal(&state, store.FatalBlockedOrEmpty, "4xx ratio exceeded threshold over the sample window", now)
	}

	state.LastUpdatedAt = now
	if err := in.store.PutIntelligence(ctx, state); err != nil {
		return store.IntelligenceState{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return state, nil
}

// raiseFatal sets state.FatalState to reason unless a state already set
// is equally or more severe — the total order this merge honors is
// NONE < CONNECTIVITY < BLOCKED_OR_EMPTY < WATCHDOG_EXHAUSTED.
func raiseFatal(state *store.IntelligenceState, reason store.FatalReason, message string, at time.Time) {
	if state.FatalState != nil && state.FatalState.Reason >= reason {
		return
	}
	state.FatalState = &store.FatalState{Reason: reason, Message: message, DetectedAt: at}
}

// RaiseWatchdogExhausted is the Watchdog's entry point for its own fatal
// transition — kept here since fatalState precedence is Intelligence's
// invariant to enforce.
func (in *Intelligence) RaiseWatchdogExhausted(ctx context.Context, domain string, message string) error {
	state, _, err := in.store.GetIntelligence(ctx, domain)
	if err != nil {
		return &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	if state.Domain == "" {
		state.Domain = domain
	}
	raiseFatal(&state, store.FatalWatchdogExhausted, message, time.Now())
	state.LastUpdatedAt = time.Now()
	if err := in.store.PutIntelligence(ctx, state); err != nil {
		return &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return nil
}

func (in *Intelligence) Get(ctx context.Context, domain string) (store.IntelligenceState, error) {
	state, _, err := in.store.GetIntelligence(ctx, domain)
	if err != nil {
		return store.IntelligenceState{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return state, nil
}

// ObserveTemplate records one 2xx observation of pattern, promoting it
// (confidence 1.0) once verifiedCount reaches config's templatePromotionK.
func (in *Intelligence) ObserveTemplate(ctx context.Context, domain string, pattern string) (store.Template, error) {
	state, _, err := in.store.GetIntelligence(ctx, domain)
	if err != nil {
		return store.Template{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	if state.Domain == "" {
		state.Domain = domain
	}

	k := in.cfg.TemplatePromotionK()
	found := false
	for i, t := range state.Templates {
		if t.Pattern == pattern {
			state.Templates[i].VerifiedCount++
			state.Templates[i].Confidence = confidenceFor(state.Templates[i].VerifiedCount, k)
			found = true
			break
		}
	}
	if !found {
		state.Templates = append(state.Templates, store.Template{Pattern: pattern, VerifiedCount: 1, Confidence: confidenceFor(1, k)})
	}

	state.LastUpdatedAt = time.Now()
	if err := in.store.PutIntelligence(ctx, state); err != nil {
		return store.Template{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	for _, t := range state.Templates {
		if t.Pattern == pattern {
			return t, nil
		}
	}
	return store.Template{}, nil
}

func confidenceFor(verifiedCount, k int) float64 {
	if k <= 0 {
		return 1
	}
	confidence := float64(verifiedCount) / float64(k)
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// Merge combines a platform-provided payload into domain's local state:
// max for counters, union for templates (dedup by pattern, keeping the
// higher verified count), and the fatalState more-severe-wins rule.
func (in *Intelligence) Merge(ctx context.Context, domain string, incoming store.IntelligenceState) (store.IntelligenceState, error) {
	local, _, err := in.store.GetIntelligence(ctx, domain)
	if err != nil {
		return store.IntelligenceState{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	merged := mergeStates(domain, local, incoming)
	if err := in.store.PutIntelligence(ctx, merged); err != nil {
		return store.IntelligenceState{}, &IntelligenceError{Message: err.Error(), Retryable: true, Cause: ErrCauseStoreFailure}
	}
	return merged, nil
}

func mergeStates(domain string, local, remote store.IntelligenceState) store.IntelligenceState {
	merged := local
	merged.Domain = domain

	if merged.FailureCountsByKind == nil {
		merged.FailureCountsByKind = map[string]int{}
	}
	for kind, count := range remote.FailureCountsByKind {
		if count > merged.FailureCountsByKind[kind] {
			merged.FailureCountsByKind[kind] = count
		}
	}

	if remote.EconnresetCount > merged.EconnresetCount {
		merged.EconnresetCount = remote.EconnresetCount
	}

	if remote.PuppeteerRecommended {
		merged.PuppeteerRecommended = true
		if merged.PuppeteerReason == "" {
			merged.PuppeteerReason = remote.PuppeteerReason
		}
	}

	merged.Templates = unionTemplates(local.Templates, remote.Templates)

	if remote.FatalState != nil && (merged.FatalState == nil || remote.FatalState.Reason > merged.FatalState.Reason) {
		merged.FatalState = remote.FatalState
	}

	merged.LastUpdatedAt = time.Now()
	return merged
}

func unionTemplates(a, b []store.Template) []store.Template {
	byPattern := make(map[string]store.Template, len(a)+len(b))
	for _, t := range a {
		byPattern[t.Pattern] = t
	}
	for _, t := range b {
		existing, ok := byPattern[t.Pattern]
		if !ok || t.VerifiedCount > existing.VerifiedCount {
			byPattern[t.Pattern] = t
		}
	}
	out := make([]store.Template, 0, len(byPattern))
	for _, t := range byPattern {
		out = append(out, t)
	}
	return out
}
