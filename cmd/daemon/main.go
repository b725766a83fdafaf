// Package main wires every component of the acquisition orchestrator into a
// running process: configuration, the durable job store, the job queue
// runtime, the recurring-task scheduler, the pipeline executor, the two
// announce side channels, the approval gate, and a minimal event-subscription
// HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atlasarr/atlasarr/internal/config"
	"github.com/atlasarr/atlasarr/internal/jobqueue"
	xglog "github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/announce/irc"
	"github.com/atlasarr/atlasarr/internal/media/announce/rss"
	"github.com/atlasarr/atlasarr/internal/media/approval"
	"github.com/atlasarr/atlasarr/internal/media/indexer"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/pipeline"
	"github.com/atlasarr/atlasarr/internal/media/selector"
	dbverify "github.com/atlasarr/atlasarr/internal/persistence/sqlite"
	"github.com/atlasarr/atlasarr/internal/scheduler"
	"github.com/atlasarr/atlasarr/internal/store"
	"github.com/atlasarr/atlasarr/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// approvalTimeoutInterval matches spec.md §4.6: "an Approval-timeout task
// (scheduled every 5 minutes)".
const approvalTimeoutInterval = 5 * time.Minute

// integrityCheckInterval is how often the daemon runs a quick_check pass
// over its own job store. Quick rather than full: it walks the btree
// structure without the full page-by-page verification, cheap enough to run
// on a live database on this cadence.
const integrityCheckInterval = 6 * time.Hour

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "atlasarr", Version: version})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "atlasarr", Version: version})
	logger.Info().Str("event", "config.loaded").Str("data_dir", cfg.DataDir).Msg("configuration loaded")

	telProvider, err := initTelemetry(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown error")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("event", "data_dir.create_failed").Msg("failed to create data directory")
	}

	dbPath := filepath.Join(cfg.DataDir, "atlasarr.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open job store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close error")
		}
	}()

	sched := scheduler.New()
	defer sched.Stop()

	queue := jobqueue.New(db, sched, jobqueue.Config{
		WorkerID:          fmt.Sprintf("daemon-%d", os.Getpid()),
		Concurrency:       cfg.Jobs.Concurrency,
		PollInterval:      cfg.Jobs.PollInterval,
		HeartbeatInterval: 30 * time.Second,
		ReapInterval:      time.Minute,
	})
	if err := queue.Start(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "jobqueue.start_failed").Msg("failed to start job queue")
	}

	// Indexer protocol adapters and download/media-server/encoder clients are
	// out-of-scope external integrations (spec.md §1); the daemon runs with
	// no indexers configured and placeholder collaborators until real
	// adapters are wired in.
	fanout := indexer.New(nil)
	noConstraints := func(req model.Request) selector.Constraints { return selector.Constraints{} }
	exec := pipeline.New(db, queue, fanout, noConstraints,
		unconfiguredClient{}, unconfiguredMediaServer{}, unconfiguredEncoder{})

	if err := sched.Register(ctx, "pipeline:retry-awaiting", "re-enqueue awaiting searches",
		retryInterval(cfg.Search.RetryIntervalHours), exec.RetryAwaiting); err != nil {
		logger.Fatal().Err(err).Msg("failed to register retry-awaiting task")
	}

	if err := sched.Register(ctx, "storage:verify-integrity", "check the job store for SQLite corruption",
		integrityCheckInterval, verifyStorageIntegrity(dbPath, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to register storage integrity task")
	}

	gate := approval.New(db)
	if err := sched.Register(ctx, "approval:check-timeouts", "auto-resolve expired approvals",
		approvalTimeoutInterval, gate.CheckTimeouts); err != nil {
		logger.Fatal().Err(err).Msg("failed to register approval timeout task")
	}
	go bridgeApprovalEvents(ctx, gate, exec)

	if cfg.RSS.Enabled {
		poller := rss.New(db, exec, cfg.RSS.FeedURLs, nil)
		interval := cfg.RSS.PollInterval
		if interval <= 0 {
			interval = rss.DefaultPollInterval
		}
		if err := sched.Register(ctx, "announce:rss", "poll configured RSS feeds", interval, poller.Poll); err != nil {
			logger.Fatal().Err(err).Msg("failed to register RSS poller task")
		}
	}

	if cfg.IRC.Enabled {
		listener := irc.New(db, exec, irc.Config{
			Server:              fmt.Sprintf("%s:%d", cfg.IRC.Server, cfg.IRC.Port),
			TLS:                 cfg.IRC.SSL,
			Nick:                cfg.IRC.Nickname,
			Channel:             firstOrEmpty(cfg.IRC.Channels),
			Reconnect:           cfg.IRC.Reconnect,
			ReconnectDelay:      cfg.IRC.ReconnectDelay,
			ReconnectMaxRetries: cfg.IRC.ReconnectMaxRetries,
		}, irc.DefaultParser)
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("irc listener exited")
			}
		}()
		defer listener.Stop()
	}

	mux := newEventRouter(exec, gate, queue)
	metricsAddr := envOrDefault("ATLASARR_METRICS_ADDR", ":9090")
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics and event subscriptions")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	logger.Info().Str("event", "startup").Str("version", version).Msg("atlasarr daemon started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	logger.Info().Msg("daemon stopped")
}

// verifyStorageIntegrity returns a scheduler.Handler that quick-checks the
// job store's SQLite file and logs (but does not itself act on) any
// corruption it finds; an error return backs off the task's own schedule
// per scheduler.Scheduler's panic/error handling, and the scheduler records
// the outcome via metrics.RecordSchedulerTaskRun.
func verifyStorageIntegrity(dbPath string, logger zerolog.Logger) scheduler.Handler {
	return func(ctx context.Context) error {
		issues, err := dbverify.VerifyIntegrity(dbPath, "quick")
		if err != nil {
			return fmt.Errorf("storage integrity check: %w", err)
		}
		if len(issues) > 0 {
			logger.Error().Strs("issues", issues).Str("event", "storage.integrity_failed").
				Msg("job store failed integrity check")
			return fmt.Errorf("storage integrity check: %d issue(s) found", len(issues))
		}
		return nil
	}
}

func retryInterval(hours float64) time.Duration {
	if hours <= 0 {
		hours = 6
	}
	return time.Duration(hours * float64(time.Hour))
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// initTelemetry mirrors the teacher's ATLASARR_TELEMETRY_* env-gated
// OpenTelemetry bootstrap: disabled unless explicitly opted in.
func initTelemetry(ctx context.Context) (*telemetry.Provider, error) {
	enabled := os.Getenv("ATLASARR_TELEMETRY_ENABLED") == "true"
	return telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        enabled,
		ServiceName:    envOrDefault("ATLASARR_SERVICE_NAME", "atlasarr"),
		ServiceVersion: version,
		Environment:    envOrDefault("ATLASARR_ENVIRONMENT", "production"),
		ExporterType:   envOrDefault("ATLASARR_TELEMETRY_EXPORTER", "grpc"),
		Endpoint:       envOrDefault("ATLASARR_OTLP_ENDPOINT", "localhost:4317"),
		SamplingRate:   1.0,
	})
}
