package httpapi

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/metabench/crawlfleet/internal/export"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/pkg/failure"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if classified, ok := err.(failure.ClassifiedError); ok && classified.Severity() == failure.SeverityRecoverable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorMessageDTO{Error: err.Error()})
}

func toFatalStateDTO(fs *store.FatalState) *fatalStateDTO {
	if fs == nil {
		return nil
	}
	return &fatalStateDTO{Reason: fs.Reason.String(), Message: fs.Message, DetectedAt: fs.DetectedAt}
}

func toIntelligenceDTO(state store.IntelligenceState) intelligenceDTO {
	templates := make([]templateDTO, 0, len(state.Templates))
	for _, t := range state.Templates {
		templates = append(templates, templateDTO{Pattern: t.Pattern, VerifiedCount: t.VerifiedCount, Confidence: t.Confidence})
	}
	return intelligenceDTO{
		Domain:               state.Domain,
		FailureCountsByKind:  state.FailureCountsByKind,
		EconnresetCount:      state.EconnresetCount,
		PuppeteerRecommended: state.PuppeteerRecommended,
		PuppeteerReason:      state.PuppeteerReason,
		FatalState:           toFatalStateDTO(state.FatalState),
		Templates:            templates,
		LastUpdatedAt:        state.LastUpdatedAt,
	}
}

func (a *API) buildStatus(r *http.Request) (statusDTO, error) {
	ctx := r.Context()
	status := a.worker.Status()

	done, err := a.store.CountByStatus(ctx, store.URLStatusDone)
	if err != nil {
		return statusDTO{}, err
	}
	pending, err := a.store.CountByStatus(ctx, store.URLStatusPending)
	if err != nil {
		return statusDTO{}, err
	}
	fetching, err := a.store.CountByStatus(ctx, store.URLStatusFetching)
	if err != nil {
		return statusDTO{}, err
	}
	errored, err := a.store.CountByStatus(ctx, store.URLStatusError)
	if err != nil {
		return statusDTO{}, err
	}
	dead, err := a.store.CountByStatus(ctx, store.URLStatusDead)
	if err != nil {
		return statusDTO{}, err
	}

	state, ierr := a.intelligence.Get(ctx, a.domain)
	if ierr != nil {
		return statusDTO{}, ierr
	}

	return statusDTO{
		IsRunning: status.IsRunning,
		Stats: statsDTO{
			Done:    status.DoneCount,
			Total:   done + pending + fetching + errored + dead,
			Pending: status.PendingCount,
			Errors:  errored + dead,
		},
		FatalState: toFatalStateDTO(state.FatalState),
	}, nil
}

// handleIndex reports overall status with an intelligence summary — the
// same data as /api/status and /api/intelligence combined, per spec.md
// §6's "overall status with intelligence summary".
func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	status, err := a.buildStatus(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	state, err := a.intelligence.Get(r.Context(), a.domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Domain       string          `json:"domain"`
		Status       statusDTO       `json:"status"`
		Intelligence intelligenceDTO `json:"intelligence"`
	}{Domain: a.domain, Status: status, Intelligence: toIntelligenceDTO(state)})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.buildStatus(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStart is idempotent: Worker.Run itself no-ops if already running.
func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	go func() {
		if err := a.worker.Run(a.ctx); err != nil {
			a.logger.Error().Err(err).Str("domain", a.domain).Msg("worker run exited")
		}
	}()
	writeJSON(w, http.StatusAccepted, startResponse{Started: true})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.worker.Stop()
	writeJSON(w, http.StatusOK, stopResponse{Stopping: true})
}

func (a *API) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorMessageDTO{Error: "invalid request body"})
		return
	}
	inserted, err := a.queue.Seed(r.Context(), req.URLs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seedResponse{Inserted: inserted})
}

func (a *API) handleURLs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	statusFilter := store.URLStatus(r.URL.Query().Get("status"))

	recs, err := a.store.SnapshotURLs(r.Context(), time.Time{}, time.Now(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if statusFilter != "" {
		filtered := make([]store.URLRecord, 0, len(recs))
		for _, rec := range recs {
			if rec.Status == statusFilter {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) handleErrors(w http.ResponseWriter, r *http.Request) {
	state, err := a.intelligence.Get(r.Context(), a.domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	buckets := make([]errorBucketDTO, 0, len(state.FailureCountsByKind))
	for kind, count := range state.FailureCountsByKind {
		buckets = append(buckets, errorBucketDTO{Kind: kind, Count: count})
	}
	writeJSON(w, http.StatusOK, errorsResponseDTO{Distribution: buckets, FatalState: toFatalStateDTO(state.FatalState)})
}

func (a *API) handleExportFull(w http.ResponseWriter, r *http.Request) {
	limit := 5000
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	payload, expErr := a.export.Batch(r.Context(), export.BatchQuery{Until: time.Now(), Limit: limit})
	if expErr != nil {
		writeErr(w, expErr)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleExportBatch answers the delta-sync endpoint: gzipped JSON with the
// watermark headers spec.md §6 requires so a consumer can detect
// truncation and resume from X-Batch-Watermark.
func (a *API) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query export.BatchQuery
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.Since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.Until = t
		}
	}
	if v := q.Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			query.Window = d
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			query.Limit = n
		}
	}

	payload, expErr := a.export.Batch(r.Context(), query)
	if expErr != nil {
		writeErr(w, expErr)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("X-Batch-Watermark", payload.Watermark.Format(time.RFC3339))
	w.Header().Set("X-Batch-Id", payload.BatchID)
	w.Header().Set("X-Batch-Urls", strconv.Itoa(payload.Counts.URLs))
	w.Header().Set("X-Batch-Links", strconv.Itoa(payload.Counts.Links))
	w.Header().Set("X-Uncompressed-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	defer gz.Close()
	_, _ = gz.Write(body)
}

func (a *API) handleGetIntelligence(w http.ResponseWriter, r *http.Request) {
	state, err := a.intelligence.Get(r.Context(), a.domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntelligenceDTO(state))
}

func (a *API) handlePostIntelligence(w http.ResponseWriter, r *http.Request) {
	var dto intelligenceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorMessageDTO{Error: "invalid request body"})
		return
	}

	templates := make([]store.Template, 0, len(dto.Templates))
	for _, t := range dto.Templates {
		templates = append(templates, store.Template{Pattern: t.Pattern, VerifiedCount: t.VerifiedCount, Confidence: t.Confidence})
	}
	incoming := store.IntelligenceState{
		Domain:               a.domain,
		FailureCountsByKind:  dto.FailureCountsByKind,
		EconnresetCount:      dto.EconnresetCount,
		PuppeteerRecommended: dto.PuppeteerRecommended,
		PuppeteerReason:      dto.PuppeteerReason,
		Templates:            templates,
	}
	if dto.FatalState != nil {
		incoming.FatalState = &store.FatalState{Message: dto.FatalState.Message, DetectedAt: dto.FatalState.DetectedAt}
		for reason := store.FatalConnectivity; reason <= store.FatalWatchdogExhausted; reason++ {
			if reason.String() == dto.FatalState.Reason {
				incoming.FatalState.Reason = reason
			}
		}
	}

	merged, err := a.intelligence.Merge(r.Context(), a.domain, incoming)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntelligenceDTO(merged))
}
