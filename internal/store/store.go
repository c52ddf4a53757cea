// Package store is the durable facade over the crawl worker's SQLite or
// Postgres backend: URL records, discovered links, crawl runs, the
// append-only log, and per-domain intelligence state. Claim is a single
// transaction giving the row-level locking the Queue's visibility-timeout
// semantics require.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/pkg/fileutil"
	"github.com/rs/zerolog"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

// Open connects to the backend named by cfg: Postgres when DatabaseURL is
// set, SQLite otherwise. The schema is created if missing.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	if cfg.DatabaseURL() != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL())
		dialect = DialectPostgres
	} else {
		if dirErr := fileutil.EnsureDir(dirOf(cfg.SqliteDBPath())); dirErr != nil {
			return nil, dirErr
		}
		dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.SqliteDBPath())
		db, err = sql.Open("sqlite", dsn)
		dialect = DialectSQLite
	}
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseConnectFailure}
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseConnectFailure}
	}

	s := &Store{db: db, dialect: dialect, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := schema
	if s.dialect == DialectPostgres {
		ddl = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseSchemaFailure}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertURL inserts a URL record if its id is new, or returns the existing
// record unchanged (idempotent seeding/enqueue). Use Complete to mutate an
// already-claimed record.
func (s *Store) UpsertURL(ctx context.Context, rec URLRecord) (URLRecord, bool, error) {
	now := time.Now()
	if existing, ok, err := s.GetURL(ctx, rec.ID); err != nil {
		return URLRecord{}, false, err
	} else if ok {
		return existing, false, nil
	}

	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = URLStatusPending
	}

	_, err := s.exec(ctx, `
		INSERT INTO urls (id, url, host, path, status, depth, discovered_from, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.URL, rec.Host, rec.Path, string(rec.Status), rec.Depth, rec.DiscoveredFrom, int(rec.Priority), fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	if err != nil {
		return URLRecord{}, false, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return rec, true, nil
}

func (s *Store) GetURL(ctx context.Context, id string) (URLRecord, bool, error) {
	row := s.queryRow(ctx, `
		SELECT id, url, host, path, status, http_status, content_type, content_length,
		       title, word_count, classification, depth, discovered_from, links_found,
		       priority, locked_by, locked_at, reclaim_count, error_msg, fetched_at, created_at, updated_at
		FROM urls WHERE id = ?
	`, id)

	rec, err := scanURLRow(row.Scan)
	if err == sql.ErrNoRows {
		return URLRecord{}, false, nil
	}
	if err != nil {
		return URLRecord{}, false, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return rec, true, nil
}

func scanURLRow(scan func(dest ...any) error) (URLRecord, error) {
	var (
		rec                                         URLRecord
		status                                      string
		priority                                    int
		lockedAt, fetchedAt, createdAt, updatedAt string
	)
	err := scan(
		&rec.ID, &rec.URL, &rec.Host, &rec.Path, &status, &rec.HTTPStatus, &rec.ContentType, &rec.ContentLength,
		&rec.Title, &rec.WordCount, &rec.Classification, &rec.Depth, &rec.DiscoveredFrom, &rec.LinksFound,
		&priority, &rec.LockedBy, &lockedAt, &rec.ReclaimCount, &rec.ErrorMsg, &fetchedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return URLRecord{}, err
	}
	rec.Status = URLStatus(status)
	rec.Priority = Priority(priority)
	rec.LockedAt = parseTime(lockedAt)
	rec.FetchedAt = parseTime(fetchedAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// Claim atomically selects up to limit pending (or expired-lock) rows,
// ordered by (priority, created_at), marks them fetching under workerID,
// and returns them. visibleAfter is the instant before which a fetching
// row is still considered in-flight and not reclaimable.
func (s *Store) Claim(ctx context.Context, limit int, workerID string, visibleAfter time.Time) ([]URLRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseTxFailure}
	}
	defer tx.Rollback()

	now := time.Now()
	selectQuery := rebind(s.dialect, fmt.Sprintf(`
		SELECT id FROM urls
		WHERE status = ? OR (status = ? AND locked_at < ?)
		ORDER BY priority ASC, created_at ASC
		LIMIT ? %s
	`, s.dialect.forUpdateClause()))

	rows, err := tx.QueryContext(ctx, selectQuery, string(URLStatusPending), string(URLStatusFetching), fmtTime(visibleAfter), limit)
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		ids = append(ids, id)
	}
	rows.Close()

	claimed := make([]URLRecord, 0, len(ids))
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, rebind(s.dialect, `
			UPDATE urls SET status = ?, locked_by = ?, locked_at = ?, updated_at = ? WHERE id = ?
		`), string(URLStatusFetching), workerID, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}

		row := tx.QueryRowContext(ctx, rebind(s.dialect, `
			SELECT id, url, host, path, status, http_status, content_type, content_length,
			       title, word_count, classification, depth, discovered_from, links_found,
			       priority, locked_by, locked_at, reclaim_count, error_msg, fetched_at, created_at, updated_at
			FROM urls WHERE id = ?
		`), id)
		rec, err := scanURLRow(row.Scan)
		if err != nil {
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		claimed = append(claimed, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseTxFailure}
	}
	return claimed, nil
}

// Complete transitions a claimed URL to done, error, or dead, recording the
// outcome fields passed via rec (only the mutable observation fields are
// applied: status, http status, content metadata, classification, error).
func (s *Store) Complete(ctx context.Context, rec URLRecord) error {
	_, err := s.exec(ctx, `
		UPDATE urls SET
			status = ?, http_status = ?, content_type = ?, content_length = ?,
			title = ?, word_count = ?, classification = ?, links_found = ?,
			error_msg = ?, fetched_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(rec.Status), rec.HTTPStatus, rec.ContentType, rec.ContentLength,
		rec.Title, rec.WordCount, rec.Classification, rec.LinksFound,
		rec.ErrorMsg, fmtTime(rec.FetchedAt), fmtTime(time.Now()), rec.ID,
	)
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

// ExtendLock pushes a claimed row's locked_at forward so it is not
// reclaimed mid-fetch.
func (s *Store) ExtendLock(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE urls SET locked_at = ? WHERE id = ? AND status = ?`, fmtTime(time.Now()), id, string(URLStatusFetching))
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

// ReleaseLock returns a claimed row to pending without penalty.
func (s *Store) ReleaseLock(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE urls SET status = ?, locked_by = '', updated_at = ? WHERE id = ?`, string(URLStatusPending), fmtTime(time.Now()), id)
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

// ReclaimExpired moves fetching rows whose lock has expired back to
// pending, incrementing reclaim_count; rows exceeding maxReclaims are
// marked dead with reason "abandoned". Returns the number of rows reclaimed
// (including those marked dead).
func (s *Store) ReclaimExpired(ctx context.Context, visibilityTimeout time.Duration, maxReclaims int) (int, error) {
	cutoff := time.Now().Add(-visibilityTimeout)
	rows, err := s.query(ctx, `SELECT id, reclaim_count FROM urls WHERE status = ? AND locked_at < ?`, string(URLStatusFetching), fmtTime(cutoff))
	if err != nil {
		return 0, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	type row struct {
		id    string
		count int
	}
	var expired []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.count); err != nil {
			rows.Close()
			return 0, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		expired = append(expired, r)
	}
	rows.Close()

	now := fmtTime(time.Now())
	for _, r := range expired {
		if r.count+1 > maxReclaims {
			_, err = s.exec(ctx, `UPDATE urls SET status = ?, error_msg = ?, updated_at = ? WHERE id = ?`,
				string(URLStatusDead), "abandoned", now, r.id)
		} else {
			_, err = s.exec(ctx, `UPDATE urls SET status = ?, reclaim_count = ?, locked_by = '', updated_at = ? WHERE id = ?`,
				string(URLStatusPending), r.count+1, now, r.id)
		}
		if err != nil {
			return 0, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
	}
	return len(expired), nil
}

func (s *Store) CountByStatus(ctx context.Context, status URLStatus) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM urls WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return count, nil
}

func (s *Store) InsertDiscoveredLinks(ctx context.Context, links []DiscoveredLink) error {
	now := fmtTime(time.Now())
	for _, link := range links {
		navLink := 0
		if link.IsNavLink {
			navLink = 1
		}
		_, err := s.exec(ctx, `
			INSERT INTO discovered_links (id, source_url_id, target_url, link_text, is_nav_link, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, link.ID, link.SourceURLID, link.TargetURL, link.LinkText, navLink, now)
		if err != nil {
			return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO crawl_log (run_id, level, message, data, ts) VALUES (?, ?, ?, ?, ?)
	`, entry.RunID, entry.Level, entry.Message, entry.Data, fmtTime(time.Now()))
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

func (s *Store) RecentLogs(ctx context.Context, runID string, limit int) ([]LogEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, run_id, level, message, data, ts FROM crawl_log
		WHERE run_id = ? ORDER BY id DESC LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Level, &e.Message, &e.Data, &ts); err != nil {
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		e.Ts = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) UpsertCrawlRun(ctx context.Context, run CrawlRun) error {
	existing, ok, err := s.getCrawlRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if !ok {
		_, err := s.exec(ctx, `
			INSERT INTO crawl_runs (id, target_domain, started_at, ended_at, total_fetched, total_errors, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.TargetDomain, fmtTime(run.StartedAt), fmtTime(run.EndedAt), run.TotalFetched, run.TotalErrors, string(run.Status))
		if err != nil {
			return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		return nil
	}
	_ = existing
	_, err = s.exec(ctx, `
		UPDATE crawl_runs SET ended_at = ?, total_fetched = ?, total_errors = ?, status = ? WHERE id = ?
	`, fmtTime(run.EndedAt), run.TotalFetched, run.TotalErrors, string(run.Status), run.ID)
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

func (s *Store) getCrawlRun(ctx context.Context, id string) (CrawlRun, bool, error) {
	row := s.queryRow(ctx, `
		SELECT id, target_domain, started_at, ended_at, total_fetched, total_errors, status
		FROM crawl_runs WHERE id = ?
	`, id)
	var run CrawlRun
	var started, ended, status string
	err := row.Scan(&run.ID, &run.TargetDomain, &started, &ended, &run.TotalFetched, &run.TotalErrors, &status)
	if err == sql.ErrNoRows {
		return CrawlRun{}, false, nil
	}
	if err != nil {
		return CrawlRun{}, false, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	run.StartedAt = parseTime(started)
	run.EndedAt = parseTime(ended)
	run.Status = RunStatus(status)
	return run, true, nil
}

func (s *Store) GetActiveCrawlRun(ctx context.Context, domain string) (CrawlRun, bool, error) {
	row := s.queryRow(ctx, `
		SELECT id, target_domain, started_at, ended_at, total_fetched, total_errors, status
		FROM crawl_runs WHERE target_domain = ? AND status = ? ORDER BY started_at DESC LIMIT 1
	`, domain, string(RunStatusRunning))
	var run CrawlRun
	var started, ended, status string
	err := row.Scan(&run.ID, &run.TargetDomain, &started, &ended, &run.TotalFetched, &run.TotalErrors, &status)
	if err == sql.ErrNoRows {
		return CrawlRun{}, false, nil
	}
	if err != nil {
		return CrawlRun{}, false, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	run.StartedAt = parseTime(started)
	run.EndedAt = parseTime(ended)
	run.Status = RunStatus(status)
	return run, true, nil
}

func (s *Store) GetIntelligence(ctx context.Context, domain string) (IntelligenceState, bool, error) {
	row := s.queryRow(ctx, `
		SELECT domain, failure_counts_by_kind, econnreset_count, puppeteer_recommended, puppeteer_reason,
		       fatal_reason, fatal_message, fatal_detected_at, templates, last_updated_at
		FROM intelligence_state WHERE domain = ?
	`, domain)

	var (
		state                                         IntelligenceState
		failureJSON, templatesJSON                     string
		puppeteerRecommended                           int
		fatalReason                                    int
		fatalMessage, fatalDetectedAt, lastUpdatedAt string
	)
	err := row.Scan(&state.Domain, &failureJSON, &state.EconnresetCount, &puppeteerRecommended, &state.PuppeteerReason,
		&fatalReason, &fatalMessage, &fatalDetectedAt, &templatesJSON, &lastUpdatedAt)
	if err == sql.ErrNoRows {
		return IntelligenceState{}, false, nil
	}
	if err != nil {
		return IntelligenceState{}, false, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}

	state.PuppeteerRecommended = puppeteerRecommended != 0
	state.LastUpdatedAt = parseTime(lastUpdatedAt)
	_ = json.Unmarshal([]byte(failureJSON), &state.FailureCountsByKind)
	if state.FailureCountsByKind == nil {
		state.FailureCountsByKind = map[string]int{}
	}
	_ = json.Unmarshal([]byte(templatesJSON), &state.Templates)

	if FatalReason(fatalReason) != FatalNone {
		state.FatalState = &FatalState{
			Reason:     FatalReason(fatalReason),
			Message:    fatalMessage,
			DetectedAt: parseTime(fatalDetectedAt),
		}
	}
	return state, true, nil
}

func (s *Store) PutIntelligence(ctx context.Context, state IntelligenceState) error {
	failureJSON, _ := json.Marshal(state.FailureCountsByKind)
	templatesJSON, _ := json.Marshal(state.Templates)

	var fatalReason int
	var fatalMessage, fatalDetectedAt string
	if state.FatalState != nil {
		fatalReason = int(state.FatalState.Reason)
		fatalMessage = state.FatalState.Message
		fatalDetectedAt = fmtTime(state.FatalState.DetectedAt)
	}

	puppeteerRecommended := 0
	if state.PuppeteerRecommended {
		puppeteerRecommended = 1
	}

	_, exists, err := s.GetIntelligence(ctx, state.Domain)
	if err != nil {
		return err
	}

	if !exists {
		_, err = s.exec(ctx, `
			INSERT INTO intelligence_state (domain, failure_counts_by_kind, econnreset_count, puppeteer_recommended, puppeteer_reason, fatal_reason, fatal_message, fatal_detected_at, templates, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, state.Domain, string(failureJSON), state.EconnresetCount, puppeteerRecommended, state.PuppeteerReason,
			fatalReason, fatalMessage, fatalDetectedAt, string(templatesJSON), fmtTime(time.Now()))
		if err != nil {
			return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		return nil
	}

	_, err = s.exec(ctx, `
		UPDATE intelligence_state SET
			failure_counts_by_kind = ?, econnreset_count = ?, puppeteer_recommended = ?, puppeteer_reason = ?,
			fatal_reason = ?, fatal_message = ?, fatal_detected_at = ?, templates = ?, last_updated_at = ?
		WHERE domain = ?
	`, string(failureJSON), state.EconnresetCount, puppeteerRecommended, state.PuppeteerReason,
		fatalReason, fatalMessage, fatalDetectedAt, string(templatesJSON), fmtTime(time.Now()), state.Domain)
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	return nil
}

// SnapshotURLs returns URL rows updated in (since, until], ordered by
// updated_at, capped at limit, for ExportPipeline.Batch.
func (s *Store) SnapshotURLs(ctx context.Context, since, until time.Time, limit int) ([]URLRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, url, host, path, status, http_status, content_type, content_length,
		       title, word_count, classification, depth, discovered_from, links_found,
		       priority, locked_by, locked_at, reclaim_count, error_msg, fetched_at, created_at, updated_at
		FROM urls WHERE updated_at > ? AND updated_at <= ? ORDER BY updated_at ASC LIMIT ?
	`, fmtTime(since), fmtTime(until), limit)
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	defer rows.Close()

	var out []URLRecord
	for rows.Next() {
		rec, err := scanURLRow(rows.Scan)
		if err != nil {
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SnapshotLinks(ctx context.Context, since, until time.Time, limit int) ([]DiscoveredLink, error) {
	rows, err := s.query(ctx, `
		SELECT id, source_url_id, target_url, link_text, is_nav_link, created_at
		FROM discovered_links WHERE created_at > ? AND created_at <= ? ORDER BY created_at ASC LIMIT ?
	`, fmtTime(since), fmtTime(until), limit)
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
	}
	defer rows.Close()

	var out []DiscoveredLink
	for rows.Next() {
		var link DiscoveredLink
		var navLink int
		var createdAt string
		if err := rows.Scan(&link.ID, &link.SourceURLID, &link.TargetURL, &link.LinkText, &navLink, &createdAt); err != nil {
			return nil, &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueryFailure}
		}
		link.IsNavLink = navLink != 0
		link.CreatedAt = parseTime(createdAt)
		out = append(out, link)
	}
	return out, nil
}
