package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/archarvest/internal/catalog"
	"github.com/sydlexius/archarvest/internal/config"
	"github.com/sydlexius/archarvest/internal/database"
	"github.com/sydlexius/archarvest/internal/dispatch"
	"github.com/sydlexius/archarvest/internal/dpsreport"
	"github.com/sydlexius/archarvest/internal/event"
	"github.com/sydlexius/archarvest/internal/harvest"
	"github.com/sydlexius/archarvest/internal/history"
	"github.com/sydlexius/archarvest/internal/logging"
	"github.com/sydlexius/archarvest/internal/remote"
	"github.com/sydlexius/archarvest/internal/scanner"
	"github.com/sydlexius/archarvest/internal/scheduler"
	"github.com/sydlexius/archarvest/internal/updater"
	"github.com/sydlexius/archarvest/internal/version"
	"github.com/sydlexius/archarvest/internal/watcher"
)

type options struct {
	configPath  string
	once        bool
	logLevel    string
	showVersion bool
	history     int
}

func main() {
	opts := parseFlags(os.Args[1:])
	if opts.showVersion {
		fmt.Printf("archarvest %s (%s)\n", version.Version, version.Commit)
		return
	}

	runFn := run
	if opts.history > 0 {
		runFn = showHistory
	}
	if err := runFn(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) options {
	var opts options
	defaultConfig := os.Getenv("AH_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "archarvest.yaml"
	}

	fs := pflag.NewFlagSet("archarvest", pflag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to the YAML config file")
	fs.BoolVar(&opts.once, "once", false, "run a single pass without the initial delay and exit")
	fs.StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")
	fs.IntVar(&opts.history, "history", 0, "print the last N passes and uploads from the history database and exit")
	_ = fs.Parse(args)
	return opts
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		if !logging.ValidLevel(opts.logLevel) {
			return fmt.Errorf("invalid log level %q", opts.logLevel)
		}
		cfg.Logging.Level = opts.logLevel
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	logger.Info("archarvest starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("config", opts.configPath),
		slog.String("log_dir", cfg.Paths.LogDir),
		slog.String("logging", logManager.Config().String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbound HTTP
	limiter := remote.NewRateLimiterMap()
	for name, rps := range cfg.HTTP.RateLimits {
		limiter.SetLimit(remote.Endpoint(name), rps)
	}
	client := remote.NewClient(&http.Client{Timeout: cfg.HTTP.Timeout}, limiter, logger)
	registrationClient := client
	if cfg.HTTP.RegistrationInsecureTLS {
		logger.Warn("TLS verification disabled for registration endpoint",
			slog.String("url", cfg.Endpoints.RegistrationURL))
		registrationClient = remote.NewClient(insecureHTTPClient(cfg.HTTP.Timeout), limiter, logger)
	}

	eventBus := event.NewBus(logger, 256)

	// History ledger
	var store *history.Store
	if cfg.History.Enabled {
		db, err := openHistory(ctx, cfg.Database.Path, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("closing database", "error", err)
			}
		}()
		store = history.NewStore(db, logger)
		store.Subscribe(eventBus)
	}

	// Harvest pipeline
	sc := scanner.New(cfg.Paths.Extension, cfg.Paths.MarkerSuffix, logger)
	uploader := dpsreport.New(client, cfg.Endpoints.TokenURL, cfg.Endpoints.UploadURL, logger)
	dispatcher := dispatch.NewDispatcher(registrationClient, cfg.Endpoints.RegistrationURL, logger)
	bosses := catalog.NewFetcher(client, cfg.Endpoints.CatalogURL, logger)
	harvester := harvest.New(sc, uploader, dispatcher, bosses, cfg.Paths.LogDir, logger)
	harvester.SetEventBus(eventBus)

	// Dependency updates
	var checker scheduler.VersionChecker
	var installer scheduler.Installer
	if cfg.Schedule.CheckForUpdate {
		checker = updater.NewChecker(client, cfg.Endpoints.HashURL, cfg.Paths.DependencyPath, logger)
		inst := updater.NewInstaller(client, cfg.Endpoints.DependencyURL, logger)
		inst.SetEventBus(eventBus)
		installer = inst
	}

	loop := scheduler.New(scheduler.Config{
		InitialDelay: cfg.Schedule.InitialDelay,
		Interval:     cfg.Schedule.Interval,
	}, checker, installer, harvester, logger)

	if opts.once {
		return runOnce(ctx, loop, eventBus, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eventBus.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	if cfg.Watch.Enabled {
		w := watcher.NewService(cfg.Paths.LogDir, cfg.Paths.Extension, loop.Wake, logger)
		if cfg.Watch.Debounce > 0 {
			w.SetDebounce(cfg.Watch.Debounce)
		}
		g.Go(func() error { return w.Start(gctx) })
	}
	if store != nil {
		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			store.StartMaintenance(gctx, retention, 24*time.Hour)
			return nil
		})
	}
	g.Go(func() error {
		reloadOnHangup(gctx, opts, logManager, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("archarvest stopped")
	return err
}

// runOnce performs a single update check and pass, then drains the event
// bus so history writes land before exit.
func runOnce(ctx context.Context, loop *scheduler.Loop, bus *event.Bus, logger *slog.Logger) error {
	busCtx, cancelBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		_ = bus.Run(busCtx)
		close(busDone)
	}()

	result := loop.RunOnce(ctx)

	cancelBus()
	<-busDone

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed", result.Failed, result.Discovered)
	}
	logger.Info("single pass finished", slog.Int("uploaded", result.Uploaded))
	return nil
}

func openHistory(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	schema, err := database.Version(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	logger.Info("history database ready",
		slog.String("path", path),
		slog.Int64("schema_version", schema))
	return db, nil
}

// reloadOnHangup re-reads the logging section of the config file on SIGHUP.
func reloadOnHangup(ctx context.Context, opts options, logManager *logging.Manager, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				logger.Error("reloading config", "error", err)
				continue
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logManager.Reconfigure(loggingConfig(cfg))
			logger.Info("logging reconfigured", slog.String("logging", logManager.Config().String()))
		}
	}
}

func loggingConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	}
}

// insecureHTTPClient skips certificate verification. Used only for the
// registration endpoint, which typically serves a self-signed certificate
// on localhost.
func insecureHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // G402: operator opt-in
	return &http.Client{Timeout: timeout, Transport: transport}
}
