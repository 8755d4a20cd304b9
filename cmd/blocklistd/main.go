package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/indo-san/WKWebView/internal/activation"
	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/config"
	"github.com/indo-san/WKWebView/internal/downloader"
	"github.com/indo-san/WKWebView/internal/http/rest"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/rulestore"
	"github.com/indo-san/WKWebView/internal/state"
	"github.com/indo-san/WKWebView/internal/state/bolt"
	"github.com/indo-san/WKWebView/internal/state/sqlite"
	"github.com/indo-san/WKWebView/internal/telemetry"
	"github.com/indo-san/WKWebView/internal/updater"
)

const serviceName = "blocklistd"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("blocklistd starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start State Store
	store, err := buildStateStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	models := state.NewModels(store)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: serviceName})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Rule Store
	ruleStore := rulestore.NewLocalStore()
	defer ruleStore.Close()

	resolver := activation.NewResolver(ruleStore, cfg.ContainerDir, cfg.Expiration, activation.WithTelemetry(tel))

	identity := downloader.Identity{
		AddonName:          cfg.AddonName,
		AddonVersion:       cfg.AddonVer,
		Application:        cfg.AppName,
		ApplicationVersion: cfg.AppVersion,
		Platform:           cfg.Platform,
		PlatformVersion:    cfg.PlatformV,
	}

	engineDeps := downloader.Deps{
		ContainerDir: cfg.ContainerDir,
		Models:       models,
		Telemetry:    tel,
		Identity:     identity,
		Expiration:   cfg.Expiration,
		KeepFactor:   cfg.KeepFactor,
		DownloadsMax: cfg.UserDownloadsMax,
		HistoryMax:   cfg.UserHistoryMax,
		CounterMax:   cfg.DownloadCounterMax,
	}

	// =========================================================================
	// Start Automatic Updates
	updaterDeps := engineDeps
	updaterDeps.DownloadsMax = cfg.UpdaterDownloadsMax

	sched := updater.New(updater.Deps{
		Models:     models,
		Telemetry:  tel,
		Expiration: cfg.Expiration,
		Period:     cfg.UpdatePeriod(),
		NewEngine: func(consumer blocklist.Updater) (*downloader.Engine, error) {
			return downloader.NewEngine(blocklist.AutomaticUpdate, consumer, updaterDeps)
		},
	})
	sched.Start(ctx)
	defer sched.Shutdown()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, models, resolver, engineDeps, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for update checks...",
		"container_dir", cfg.ContainerDir,
		"update_period", cfg.UpdatePeriod().String(),
		"expiration", cfg.Expiration.String(),
	)

	// =========================================================================
	// Start Main Loop
	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-sched.Done():
			if err := sched.Err(); err != nil {
				return fmt.Errorf("automatic updates stopped: %w", err)
			}

			return nil
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		}
	}
}

// This is an abstract factory for the snapshot store.
func buildStateStore(cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "bolt":
		return bolt.Open(cfg.StatePath)
	case "sqlite":
		return sqlite.Open(cfg.StatePath)
	}

	return nil, fmt.Errorf("invalid state backend: %s", cfg.StateBackend)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	models *state.Models,
	resolver *activation.Resolver,
	engineDeps downloader.Deps,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewBlockListHandler(
		cfg.API.Username, cfg.API.Password,
		models, resolver, cfg.Expiration,
		func(user blocklist.User) (*downloader.Engine, error) {
			return downloader.NewEngine(blocklist.UserAction, user, engineDeps)
		},
	)

	r := chi.NewRouter()
	r.Use(tel.Middleware)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", otelhttp.NewHandler(handler.Routes(), "rest"))

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
