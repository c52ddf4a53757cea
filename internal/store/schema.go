package store

// schema is portable across SQLite and Postgres: timestamps are stored as
// RFC3339 TEXT rather than a dialect-specific temporal type, and integers
// use plain INTEGER, keeping one schema definition for both backends.
const schema = `
CREATE TABLE IF NOT EXISTS urls (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	host TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	discovered_from TEXT NOT NULL DEFAULT '',
	links_found INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 3,
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at TEXT NOT NULL DEFAULT '',
	reclaim_count INTEGER NOT NULL DEFAULT 0,
	error_msg TEXT NOT NULL DEFAULT '',
	fetched_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_urls_claim ON urls (status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_urls_updated_at ON urls (updated_at);

CREATE TABLE IF NOT EXISTS discovered_links (
	id TEXT PRIMARY KEY,
	source_url_id TEXT NOT NULL,
	target_url TEXT NOT NULL,
	link_text TEXT NOT NULL DEFAULT '',
	is_nav_link INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_created_at ON discovered_links (created_at);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id TEXT PRIMARY KEY,
	target_domain TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT '',
	total_fetched INTEGER NOT NULL DEFAULT 0,
	total_errors INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_domain ON crawl_runs (target_domain, started_at);

CREATE TABLE IF NOT EXISTS crawl_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS intelligence_state (
	domain TEXT PRIMARY KEY,
	failure_counts_by_kind TEXT NOT NULL DEFAULT '{}',
	econnreset_count INTEGER NOT NULL DEFAULT 0,
	puppeteer_recommended INTEGER NOT NULL DEFAULT 0,
	puppeteer_reason TEXT NOT NULL DEFAULT '',
	fatal_reason INTEGER NOT NULL DEFAULT 0,
	fatal_message TEXT NOT NULL DEFAULT '',
	fatal_detected_at TEXT NOT NULL DEFAULT '',
	templates TEXT NOT NULL DEFAULT '[]',
	last_updated_at TEXT NOT NULL
);
`

// schemaPostgres swaps AUTOINCREMENT, which Postgres does not support, for
// a GENERATED ALWAYS AS IDENTITY column.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS urls (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	host TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	discovered_from TEXT NOT NULL DEFAULT '',
	links_found INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 3,
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at TEXT NOT NULL DEFAULT '',
	reclaim_count INTEGER NOT NULL DEFAULT 0,
	error_msg TEXT NOT NULL DEFAULT '',
	fetched_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_urls_claim ON urls (status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_urls_updated_at ON urls (updated_at);

CREATE TABLE IF NOT EXISTS discovered_links (
	id TEXT PRIMARY KEY,
	source_url_id TEXT NOT NULL,
	target_url TEXT NOT NULL,
	link_text TEXT NOT NULL DEFAULT '',
	is_nav_link INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_created_at ON discovered_links (created_at);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id TEXT PRIMARY KEY,
	target_domain TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT '',
	total_fetched INTEGER NOT NULL DEFAULT 0,
	total_errors INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_domain ON crawl_runs (target_domain, started_at);

CREATE TABLE IF NOT EXISTS crawl_log (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	run_id TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS intelligence_state (
	domain TEXT PRIMARY KEY,
	failure_counts_by_kind TEXT NOT NULL DEFAULT '{}',
	econnreset_count INTEGER NOT NULL DEFAULT 0,
	puppeteer_recommended INTEGER NOT NULL DEFAULT 0,
	puppeteer_reason TEXT NOT NULL DEFAULT '',
	fatal_reason INTEGER NOT NULL DEFAULT 0,
	fatal_message TEXT NOT NULL DEFAULT '',
	fatal_detected_at TEXT NOT NULL DEFAULT '',
	templates TEXT NOT NULL DEFAULT '[]',
	last_updated_at TEXT NOT NULL
);
`
