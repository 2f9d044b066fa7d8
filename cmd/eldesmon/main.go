package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/darshan-rambhia/eldesmon/internal/alerter"
	"github.com/darshan-rambhia/eldesmon/internal/api"
	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/collector"
	"github.com/darshan-rambhia/eldesmon/internal/config"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/notify"
	"github.com/darshan-rambhia/eldesmon/internal/retry"
	"github.com/darshan-rambhia/eldesmon/internal/secret"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

// @title eldesmon API
// @version 1.0
// @description ELDES Cloud alarm sync and history API
// @host localhost:3900
// @BasePath /

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo prefers ldflags values and falls back to embedded VCS settings.
func buildInfo() (ver, sha, built, dirty string) {
	ver, sha, built, dirty = version, commit, buildTime, "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}
	return
}

func main() {
	configPath := flag.String("config", "", "path to eldesmon.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	seedDemo := flag.Bool("seed-demo", false, "write the demo credential, device and 30 days of readings, then exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()
	if *showVersion {
		fmt.Printf("eldesmon %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Run without -config to use defaults plus ELDESMON_* environment overrides.\n")
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	slog.SetDefault(slog.New(newLogHandler(cfg.LogLevel, cfg.LogFormat)))

	st, err := store.New(cfg.DBPath)
	if err != nil {
		slog.Error("opening database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	box, err := secret.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("initializing secret box", "error", err)
		os.Exit(1)
	}

	if *seedDemo {
		if err := runSeed(st, box, cfg.Demo); err != nil {
			slog.Error("seeding demo data", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting eldesmon",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"listen", cfg.Listen,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, st, box); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("eldesmon stopped gracefully")
}

func newLogHandler(level, format string) slog.Handler {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func runSeed(st *store.Store, box *secret.Box, demo config.DemoConfig) error {
	sealed, err := box.Encrypt(demo.Secret)
	if err != nil {
		return fmt.Errorf("encrypting demo secret: %w", err)
	}
	res, err := st.SeedDemo(context.Background(), demo.Login, sealed, time.Now())
	if err != nil {
		return err
	}
	slog.Info("demo data seeded",
		"credential_id", res.CredentialID,
		"device_id", res.DeviceID,
		"readings", res.Readings,
	)
	return nil
}

func run(ctx context.Context, cfg *config.Config, st *store.Store, box *secret.Box) error {
	m := metrics.New()
	c := cache.New()

	clientCfg := eldes.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		Whitelabel: cfg.Upstream.Whitelabel,
		Timeout:    cfg.Upstream.Timeout.Duration,
		Retry: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay.Duration,
			MaxDelay:     cfg.Retry.MaxDelay.Duration,
			Multiplier:   cfg.Retry.Multiplier,
		},
		OnRequest: m.ObserveRequest,
	}
	// One limiter shared by every per-pass client so concurrent passes
	// stay inside the same budget.
	if rps := cfg.Upstream.RequestsPerSecond; rps > 0 {
		clientCfg.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	syncer := collector.NewSyncer(collector.Deps{
		Store:   st,
		Secrets: box,
		NewClient: func(creds eldes.Credentials) collector.Upstream {
			return eldes.NewClient(clientCfg, creds)
		},
		Cache:   c,
		Metrics: m,
		Demo:    collector.DemoAccount{Login: cfg.Demo.Login, Secret: cfg.Demo.Secret},
	})

	scheduler, err := collector.NewScheduler(cfg.Sync.Schedule, func(ctx context.Context) {
		syncer.SyncAll(ctx)
	}, cfg.Sync.RunOnStart)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	providers, err := notify.FromConfig(cfg.Notifications)
	if err != nil {
		return fmt.Errorf("building notification providers: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return scheduler.Run(ctx, cfg.Sync.AutoStart) })

	if retention := cfg.History.Retention.Duration; retention > 0 {
		pruner := store.NewPruner(st, retention)
		g.Go(func() error { return pruner.Run(ctx) })
	}

	a := alerter.NewAlerter(c, st, providers, alerter.FromConfig(cfg.Alerts))
	g.Go(func() error { return a.Run(ctx) })

	server := api.NewServer(cfg.Listen, api.Deps{
		Cache:     c,
		Store:     st,
		Syncer:    syncer,
		Scheduler: scheduler,
		Secrets:   box,
		Metrics:   m,
	})
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"schedule", cfg.Sync.Schedule,
		"auto_start", cfg.Sync.AutoStart,
		"retention", cfg.History.Retention.Duration,
		"notifications", len(providers),
	)

	return g.Wait()
}
