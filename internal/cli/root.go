// Package cli is crawlfleet's cobra entry point: it parses flags,
// builds the Config, wires Store/Queue/Intelligence/Worker/Watchdog/
// ExportPipeline/httpapi together, and runs the worker until a signal
// or fatal state stops it.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metabench/crawlfleet/internal/build"
	"github.com/metabench/crawlfleet/internal/config"
	"github.com/metabench/crawlfleet/internal/export"
	"github.com/metabench/crawlfleet/internal/httpapi"
	"github.com/metabench/crawlfleet/internal/intelligence"
	"github.com/metabench/crawlfleet/internal/logging"
	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/internal/queue"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/internal/watchdog"
	"github.com/metabench/crawlfleet/internal/worker"
	"github.com/spf13/cobra"
)

// ErrBadArgs marks a failure in flag/argument validation — spec.md §6's
// exit code 2, as distinct from a runtime fatal (exit code 1).
var ErrBadArgs = errors.New("bad arguments")

var (
	domain           string
	dbPath           string
	port             int
	maxPages         int
	readinessTimeout time.Duration
	logLevel         string
	showVersion      bool
)

var rootCmd = &cobra.Command{
	Use:   "crawlfleet",
	Short: "Per-domain news-crawler worker with a watchdog and HTTP control surface.",
	Long: `crawlfleet runs one domain's crawl to completion: it claims URLs from
a durable queue, respects robots.txt and an adaptive per-host rate limit,
classifies fetched pages into articles/hubs, folds outcomes into a
per-domain intelligence model, and exposes an HTTP control surface for
seeding, status, and incremental export.`,
	RunE: runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&domain, "domain", "", "target domain this worker crawls (required)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (defaults to $SQLITE_DB_PATH, then <domain>.db)")
	rootCmd.Flags().IntVar(&port, "port", 8080, "HTTP control surface port")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0, "soft cap on total pages fetched (0 keeps the config default)")
	rootCmd.Flags().DurationVar(&readinessTimeout, "readiness-timeout", 10*time.Second, "time to wait for the store to become reachable before failing")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
}

// Execute runs the root command and maps the outcome to spec.md §6's
// exit code contract: 0 clean stop, 1 fatal, 2 bad args. It is called
// once from cmd/worker's main.
func Execute() int {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "crawlfleet:", err)
	if errors.Is(err, ErrBadArgs) {
		return 2
	}
	return 1
}

func runWorker(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Fprintln(cmd.OutOrStdout(), build.FullVersion())
		return nil
	}
	if domain == "" {
		return fmt.Errorf("%w: --domain is required", ErrBadArgs)
	}

	builder := config.WithDefault(domain, nil).
		WithPort(port).
		WithReadinessTimeout(readinessTimeout)

	switch {
	case dbPath != "":
		builder = builder.WithSqliteDBPath(dbPath)
	case os.Getenv("DATABASE_URL") != "":
		builder = builder.WithDatabaseURL(os.Getenv("DATABASE_URL"))
	case os.Getenv("SQLITE_DB_PATH") != "":
		builder = builder.WithSqliteDBPath(os.Getenv("SQLITE_DB_PATH"))
	default:
		builder = builder.WithSqliteDBPath(domain + ".db")
	}
	if maxPages > 0 {
		builder = builder.WithMaxPages(maxPages)
	}

	cfg, err := builder.Build()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadArgs, err)
	}

	runID := fmt.Sprintf("%s-%d", domain, time.Now().UnixNano())
	logger := logging.New(domain, runID, logging.ParseLevel(logLevel))
	sink := metadata.NewRecorder(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received, stopping")
		cancel()
	}()

	readyCtx, readyCancel := context.WithTimeout(ctx, cfg.ReadinessTimeout())
	defer readyCancel()
	s, err := store.Open(readyCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store unreachable within readiness timeout: %w", err)
	}
	defer s.Close()

	q := queue.NewQueue(s, cfg)
	in := intelligence.NewIntelligence(s, cfg)
	w := worker.NewWorker(domain, cfg, s, q, in, sink)
	exp := export.NewPipeline(s, domain)
	wd := watchdog.NewWatchdog(domain, w, q, in, sink, cfg, cfg.SeedURLs())

	api := httpapi.New(ctx, domain, w, q, s, in, exp, logger)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port()), Handler: httpapi.NewRouter(api)}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("worker run exited unexpectedly")
		}
	}()

	go wd.Run(ctx)

	var serverErr error
	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			serverErr = err
			cancel()
		}
	}

	w.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	state, gerr := in.Get(context.Background(), domain)
	if gerr == nil && state.FatalState != nil {
		return fmt.Errorf("domain %s reached fatal state: %s (%s)", domain, state.FatalState.Reason, state.FatalState.Message)
	}
	if serverErr != nil {
		return fmt.Errorf("http server failed: %w", serverErr)
	}
	return nil
}
