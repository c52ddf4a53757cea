// Package config builds the immutable Config a crawl worker runs with, via
// a method-chaining builder (WithDefault(...).WithX(...).Build()),
// loadable from a JSON file, CLI flags, or environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	//===============
	// Identity
	//===============
	// Domain this worker is responsible for crawling.
	domain string
	// Seed URLs to enqueue at depth 0, priority P0, on first run.
	seedURLs []string

	//===============
	// Storage / transport
	//===============
	// Path to a SQLite database file. Mutually exclusive with databaseURL.
	sqliteDBPath string
	// Postgres connection string. Takes precedence over sqliteDBPath when set.
	databaseURL string
	// Port the HTTP control surface listens on.
	port int
	// Time the worker waits for the store to become reachable before failing.
	readinessTimeout time.Duration

	//===============
	// Limits
	//===============
	maxDepth int
	maxPages int

	//===============
	// Fetch politeness
	//===============
	timeout       time.Duration
	userAgent     string
	maxRedirects  int
	maxBodyBytes  int64
	maxAttempt    int
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration

	//===============
	// RateLimiter
	//===============
	rateLimiterCapacity          float64
	rateLimiterBaseRefillRate    float64
	rateLimiterCeilingMultiplier float64
	rateLimiterDecreaseFactor    float64
	rateLimiterIncreaseFactor    float64
	rateLimiterMinRefillRate     float64
	rateLimiterJitter            time.Duration
	randomSeed                   int64
	networkBackoffInitialDuration time.Duration
	networkBackoffMultiplier       float64
	networkBackoffMaxDuration      time.Duration

	//===============
	// RobotsCache
	//===============
	robotsFetchTimeout time.Duration
	robotsPositiveTTL  time.Duration
	robotsNegativeTTL  time.Duration

	//===============
	// Queue
	//===============
	queueVisibilityTimeout time.Duration
	queueMaxReclaims       int
	queueHighWaterMark     int
	queueLowWaterMark      int
	queryParamAllowlist    []string

	//===============
	// Intelligence
	//===============
	econnresetWindow         time.Duration
	econnresetThreshold      int
	connectivityFailWindow   time.Duration
	connectivityFailMinTries int
	http4xxRatioThreshold    float64
	http4xxSampleSize        int

	//===============
	// Analyzer
	//===============
	articleWordCountThreshold int
	navRatioThreshold         float64
	hubLinkCountThreshold     int
	templatePromotionK        int
	hubIndicatorSegments      []string

	//===============
	// Watchdog
	//===============
	watchdogInterval    time.Duration
	watchdogMaxRestarts int
	idleSleepMin        time.Duration
	idleSleepMax        time.Duration

	//===============
	// ExportPipeline
	//===============
	exportDefaultLimit  int
	exportDefaultWindow time.Duration
}

type configDTO struct {
	Domain                  string        `json:"domain,omitempty"`
	SeedURLs                []string      `json:"seedUrls,omitempty"`
	SqliteDBPath            string        `json:"sqliteDbPath,omitempty"`
	DatabaseURL             string        `json:"databaseUrl,omitempty"`
	Port                    int           `json:"port,omitempty"`
	ReadinessTimeout        time.Duration `json:"readinessTimeout,omitempty"`
	MaxDepth                int           `json:"maxDepth,omitempty"`
	MaxPages                int           `json:"maxPages,omitempty"`
	Timeout                 time.Duration `json:"timeout,omitempty"`
	UserAgent               string        `json:"userAgent,omitempty"`
	MaxRedirects            int           `json:"maxRedirects,omitempty"`
	MaxBodyBytes            int64         `json:"maxBodyBytes,omitempty"`
	MaxAttempt              int           `json:"maxAttempt,omitempty"`
	QueryParamAllowlist     []string      `json:"queryParamAllowlist,omitempty"`
	WatchdogIntervalSeconds int           `json:"watchdogIntervalSeconds,omitempty"`
	WatchdogMaxRestarts     int           `json:"watchdogMaxRestarts,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.Domain, dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.SqliteDBPath != "" {
		cfg.sqliteDBPath = dto.SqliteDBPath
	}
	if dto.DatabaseURL != "" {
		cfg.databaseURL = dto.DatabaseURL
	}
	if dto.Port != 0 {
		cfg.port = dto.Port
	}
	if dto.ReadinessTimeout != 0 {
		cfg.readinessTimeout = dto.ReadinessTimeout
	}
	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.MaxRedirects != 0 {
		cfg.maxRedirects = dto.MaxRedirects
	}
	if dto.MaxBodyBytes != 0 {
		cfg.maxBodyBytes = dto.MaxBodyBytes
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if len(dto.QueryParamAllowlist) > 0 {
		cfg.queryParamAllowlist = dto.QueryParamAllowlist
	}
	if dto.WatchdogIntervalSeconds != 0 {
		cfg.watchdogInterval = time.Duration(dto.WatchdogIntervalSeconds) * time.Second
	}
	if dto.WatchdogMaxRestarts != 0 {
		cfg.watchdogMaxRestarts = dto.WatchdogMaxRestarts
	}

	return cfg, nil
}

// WithConfigFile loads a Config from a JSON file on disk, applying the same
// defaults WithDefault uses for anything the file leaves unset.
func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	cfgDTO := configDTO{}
	if err := json.Unmarshal(configContent, &cfgDTO); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(cfgDTO)
}

// WithDefault creates a new Config for domain with default values for every
// other field. domain must not be empty - Build will reject it otherwise.
func WithDefault(domain string, seedURLs []string) *Config {
	return &Config{
		domain:   domain,
		seedURLs: seedURLs,

		sqliteDBPath:     "crawlfleet.db",
		port:             8080,
		readinessTimeout: 10 * time.Second,

		maxDepth: 5,
		maxPages: 10000,

		timeout:                time.Second * 30,
		userAgent:              "crawlfleet/1.0",
		maxRedirects:           5,
		maxBodyBytes:           10 * 1024 * 1024,
		maxAttempt:             5,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,

		rateLimiterCapacity:           5,
		rateLimiterBaseRefillRate:     1,
		rateLimiterCeilingMultiplier:  4,
		rateLimiterDecreaseFactor:     0.5,
		rateLimiterIncreaseFactor:     1.1,
		rateLimiterMinRefillRate:      0.05,
		rateLimiterJitter:             250 * time.Millisecond,
		randomSeed:                    time.Now().UnixNano(),
		networkBackoffInitialDuration: time.Second,
		networkBackoffMultiplier:      2.0,
		networkBackoffMaxDuration:     60 * time.Second,

		robotsFetchTimeout: 10 * time.Second,
		robotsPositiveTTL:  24 * time.Hour,
		robotsNegativeTTL:  5 * time.Minute,

		queueVisibilityTimeout: 5 * time.Minute,
		queueMaxReclaims:       3,
		queueHighWaterMark:     100000,
		queueLowWaterMark:      70000,
		queryParamAllowlist:    []string{},

		econnresetWindow:         10 * time.Minute,
		econnresetThreshold:      3,
		connectivityFailWindow:   60 * time.Second,
		connectivityFailMinTries: 5,
		http4xxRatioThreshold:    0.9,
		http4xxSampleSize:        100,

		articleWordCountThreshold: 500,
		navRatioThreshold:         0.5,
		hubLinkCountThreshold:     10,
		templatePromotionK:        3,
		hubIndicatorSegments:      []string{"world", "news", "section", "topic", "category"},

		watchdogInterval:    120 * time.Second,
		watchdogMaxRestarts: 3,
		idleSleepMin:        500 * time.Millisecond,
		idleSleepMax:        5 * time.Second,

		exportDefaultLimit:  5000,
		exportDefaultWindow: time.Hour,
	}
}

func (c *Config) WithSeedURLs(urls []string) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithSqliteDBPath(path string) *Config {
	c.sqliteDBPath = path
	return c
}

func (c *Config) WithDatabaseURL(url string) *Config {
	c.databaseURL = url
	return c
}

func (c *Config) WithPort(port int) *Config {
	c.port = port
	return c
}

func (c *Config) WithReadinessTimeout(d time.Duration) *Config {
	c.readinessTimeout = d
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithMaxRedirects(n int) *Config {
	c.maxRedirects = n
	return c
}

func (c *Config) WithMaxBodyBytes(n int64) *Config {
	c.maxBodyBytes = n
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(d time.Duration) *Config {
	c.backoffInitialDuration = d
	return c
}

func (c *Config) WithBackoffMultiplier(m float64) *Config {
	c.backoffMultiplier = m
	return c
}

func (c *Config) WithBackoffMaxDuration(d time.Duration) *Config {
	c.backoffMaxDuration = d
	return c
}

func (c *Config) WithRateLimiterCapacity(capacity float64) *Config {
	c.rateLimiterCapacity = capacity
	return c
}

func (c *Config) WithRateLimiterBaseRefillRate(rate float64) *Config {
	c.rateLimiterBaseRefillRate = rate
	return c
}

func (c *Config) WithRateLimiterCeilingMultiplier(m float64) *Config {
	c.rateLimiterCeilingMultiplier = m
	return c
}

func (c *Config) WithRateLimiterDecreaseFactor(alpha float64) *Config {
	c.rateLimiterDecreaseFactor = alpha
	return c
}

func (c *Config) WithRateLimiterIncreaseFactor(beta float64) *Config {
	c.rateLimiterIncreaseFactor = beta
	return c
}

func (c *Config) WithRateLimiterMinRefillRate(rate float64) *Config {
	c.rateLimiterMinRefillRate = rate
	return c
}

func (c *Config) WithRateLimiterJitter(jitter time.Duration) *Config {
	c.rateLimiterJitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithNetworkBackoff(initial time.Duration, multiplier float64, max time.Duration) *Config {
	c.networkBackoffInitialDuration = initial
	c.networkBackoffMultiplier = multiplier
	c.networkBackoffMaxDuration = max
	return c
}

func (c *Config) WithRobotsFetchTimeout(d time.Duration) *Config {
	c.robotsFetchTimeout = d
	return c
}

func (c *Config) WithRobotsPositiveTTL(d time.Duration) *Config {
	c.robotsPositiveTTL = d
	return c
}

func (c *Config) WithRobotsNegativeTTL(d time.Duration) *Config {
	c.robotsNegativeTTL = d
	return c
}

func (c *Config) WithQueueVisibilityTimeout(d time.Duration) *Config {
	c.queueVisibilityTimeout = d
	return c
}

func (c *Config) WithQueueMaxReclaims(n int) *Config {
	c.queueMaxReclaims = n
	return c
}

func (c *Config) WithQueueHighWaterMark(n int) *Config {
	c.queueHighWaterMark = n
	return c
}

func (c *Config) WithQueueLowWaterMark(n int) *Config {
	c.queueLowWaterMark = n
	return c
}

func (c *Config) WithQueryParamAllowlist(params []string) *Config {
	c.queryParamAllowlist = params
	return c
}

func (c *Config) WithEconnresetWindow(d time.Duration) *Config {
	c.econnresetWindow = d
	return c
}

func (c *Config) WithEconnresetThreshold(n int) *Config {
	c.econnresetThreshold = n
	return c
}

func (c *Config) WithConnectivityFailWindow(d time.Duration) *Config {
	c.connectivityFailWindow = d
	return c
}

func (c *Config) WithConnectivityFailMinTries(n int) *Config {
	c.connectivityFailMinTries = n
	return c
}

func (c *Config) WithHTTP4xxRatioThreshold(ratio float64) *Config {
	c.http4xxRatioThreshold = ratio
	return c
}

func (c *Config) WithHTTP4xxSampleSize(n int) *Config {
	c.http4xxSampleSize = n
	return c
}

func (c *Config) WithArticleWordCountThreshold(n int) *Config {
	c.articleWordCountThreshold = n
	return c
}

func (c *Config) WithNavRatioThreshold(ratio float64) *Config {
	c.navRatioThreshold = ratio
	return c
}

func (c *Config) WithHubLinkCountThreshold(n int) *Config {
	c.hubLinkCountThreshold = n
	return c
}

func (c *Config) WithTemplatePromotionK(k int) *Config {
	c.templatePromotionK = k
	return c
}

func (c *Config) WithHubIndicatorSegments(segments []string) *Config {
	c.hubIndicatorSegments = segments
	return c
}

func (c *Config) WithWatchdogInterval(d time.Duration) *Config {
	c.watchdogInterval = d
	return c
}

func (c *Config) WithWatchdogMaxRestarts(n int) *Config {
	c.watchdogMaxRestarts = n
	return c
}

func (c *Config) WithIdleSleep(min, max time.Duration) *Config {
	c.idleSleepMin = min
	c.idleSleepMax = max
	return c
}

func (c *Config) WithExportDefaultLimit(n int) *Config {
	c.exportDefaultLimit = n
	return c
}

func (c *Config) WithExportDefaultWindow(d time.Duration) *Config {
	c.exportDefaultWindow = d
	return c
}

func (c *Config) Build() (Config, error) {
	if c.domain == "" {
		return Config{}, fmt.Errorf("%w: domain cannot be empty", ErrInvalidConfig)
	}
	if c.sqliteDBPath == "" && c.databaseURL == "" {
		return Config{}, fmt.Errorf("%w: one of sqliteDbPath or databaseUrl must be set", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) Domain() string {
	return c.domain
}

func (c Config) SeedURLs() []string {
	urls := make([]string, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) SqliteDBPath() string {
	return c.sqliteDBPath
}

func (c Config) DatabaseURL() string {
	return c.databaseURL
}

func (c Config) Port() int {
	return c.port
}

func (c Config) ReadinessTimeout() time.Duration {
	return c.readinessTimeout
}

func (c Config) MaxDepth() int {
	return c.maxDepth
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) MaxRedirects() int {
	return c.maxRedirects
}

func (c Config) MaxBodyBytes() int64 {
	return c.maxBodyBytes
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) RateLimiterCapacity() float64 {
	return c.rateLimiterCapacity
}

func (c Config) RateLimiterBaseRefillRate() float64 {
	return c.rateLimiterBaseRefillRate
}

func (c Config) RateLimiterCeilingMultiplier() float64 {
	return c.rateLimiterCeilingMultiplier
}

func (c Config) RateLimiterDecreaseFactor() float64 {
	return c.rateLimiterDecreaseFactor
}

func (c Config) RateLimiterIncreaseFactor() float64 {
	return c.rateLimiterIncreaseFactor
}

func (c Config) RateLimiterMinRefillRate() float64 {
	return c.rateLimiterMinRefillRate
}

func (c Config) RateLimiterJitter() time.Duration {
	return c.rateLimiterJitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) NetworkBackoffInitialDuration() time.Duration {
	return c.networkBackoffInitialDuration
}

func (c Config) NetworkBackoffMultiplier() float64 {
	return c.networkBackoffMultiplier
}

func (c Config) NetworkBackoffMaxDuration() time.Duration {
	return c.networkBackoffMaxDuration
}

func (c Config) RobotsFetchTimeout() time.Duration {
	return c.robotsFetchTimeout
}

func (c Config) RobotsPositiveTTL() time.Duration {
	return c.robotsPositiveTTL
}

func (c Config) RobotsNegativeTTL() time.Duration {
	return c.robotsNegativeTTL
}

func (c Config) QueueVisibilityTimeout() time.Duration {
	return c.queueVisibilityTimeout
}

func (c Config) QueueMaxReclaims() int {
	return c.queueMaxReclaims
}

func (c Config) QueueHighWaterMark() int {
	return c.queueHighWaterMark
}

func (c Config) QueueLowWaterMark() int {
	return c.queueLowWaterMark
}

func (c Config) QueryParamAllowlist() []string {
	out := make([]string, len(c.queryParamAllowlist))
	copy(out, c.queryParamAllowlist)
	return out
}

func (c Config) EconnresetWindow() time.Duration {
	return c.econnresetWindow
}

func (c Config) EconnresetThreshold() int {
	return c.econnresetThreshold
}

func (c Config) ConnectivityFailWindow() time.Duration {
	return c.connectivityFailWindow
}

func (c Config) ConnectivityFailMinTries() int {
	return c.connectivityFailMinTries
}

func (c Config) HTTP4xxRatioThreshold() float64 {
	return c.http4xxRatioThreshold
}

func (c Config) HTTP4xxSampleSize() int {
	return c.http4xxSampleSize
}

func (c Config) ArticleWordCountThreshold() int {
	return c.articleWordCountThreshold
}

func (c Config) NavRatioThreshold() float64 {
	return c.navRatioThreshold
}

func (c Config) HubLinkCountThreshold() int {
	return c.hubLinkCountThreshold
}

func (c Config) TemplatePromotionK() int {
	return c.templatePromotionK
}

func (c Config) HubIndicatorSegments() []string {
	out := make([]string, len(c.hubIndicatorSegments))
	copy(out, c.hubIndicatorSegments)
	return out
}

func (c Config) WatchdogInterval() time.Duration {
	return c.watchdogInterval
}

func (c Config) WatchdogMaxRestarts() int {
	return c.watchdogMaxRestarts
}

func (c Config) IdleSleepMin() time.Duration {
	return c.idleSleepMin
}

func (c Config) IdleSleepMax() time.Duration {
	return c.idleSleepMax
}

func (c Config) ExportDefaultLimit() int {
	return c.exportDefaultLimit
}

func (c Config) ExportDefaultWindow() time.Duration {
	return c.exportDefaultWindow
}
