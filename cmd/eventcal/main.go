package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"eventcal/internal/catalog"
	"eventcal/internal/config"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/resolve"
	"eventcal/internal/upstream"
	"eventcal/internal/web"
)

// refreshTimeout bounds one scheduled or -once catalog refresh.
const refreshTimeout = 2 * time.Minute

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file and env.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("eventcal starting",
		"listen", conf.Listen,
		"base_url", conf.BaseURL,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_ttl", conf.CacheTTL,
		"resolver", conf.Resolver.Strategy,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	cat := catalog.New(
		upstream.NewClient(conf.BaseURL, conf.UpstreamTimeout, m),
		resolve.New(conf.Resolver, m),
		m,
		catalog.Options{
			TTL:            conf.CacheTTL,
			Location:       conf.Location(),
			MaxConcurrency: conf.Resolver.MaxConcurrency,
		},
	)

	if flags.once {
		if err := runOnce(ctx, cat); err != nil {
			appLog.Error("single refresh failed", err)
			os.Exit(1)
		}
		return
	}

	sched, err := startScheduler(ctx, conf, cat)
	if err != nil {
		appLog.Error("failed to start refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	defer func() { <-sched.Stop().Done() }()

	// Warm the cache so the first request does not pay for the fetch.
	go refresh(ctx, cat)

	srv := web.NewServer(conf, cat, resolve.NewRedirectResolver(conf.Resolver.Timeout, m), m)
	if err := serve(ctx, conf.Listen, srv.Handler()); err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}
	appLog.Info("eventcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one catalog refresh, log the result and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// runOnce refreshes the catalog a single time. It fails when either kind
// could not be loaded.
func runOnce(ctx context.Context, cat *catalog.Catalog) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	snap, err := cat.Refresh(ctx)
	if err != nil {
		return err
	}

	withCoords := 0
	for _, e := range snap.Events {
		if e.HasCoords() {
			withCoords++
		}
	}
	appLog.Info("single refresh complete",
		"events", len(snap.Events),
		"events_with_coords", withCoords,
		"businesses", len(snap.Businesses),
	)

	if len(snap.Errors) > 0 {
		errs := make([]error, 0, len(snap.Errors))
		for kind, msg := range snap.Errors {
			errs = append(errs, errors.New(string(kind)+": "+msg))
		}
		return errors.Join(errs...)
	}
	return nil
}

// startScheduler refreshes the catalog on the configured cron schedule,
// evaluated in the display timezone.
func startScheduler(ctx context.Context, conf *config.Config, cat *catalog.Catalog) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := c.AddFunc(conf.RefreshCron, func() { refresh(ctx, cat) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func refresh(ctx context.Context, cat *catalog.Catalog) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	if _, err := cat.Refresh(ctx); err != nil {
		appLog.Warn("scheduled refresh aborted", "err", err)
	}
}

// serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	appLog.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
