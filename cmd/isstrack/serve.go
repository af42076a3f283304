package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/star/isstrack/internal/api"
	"github.com/star/isstrack/internal/auth"
	"github.com/star/isstrack/internal/config"
	"github.com/star/isstrack/internal/geocode"
	"github.com/star/isstrack/internal/groundtrack"
	"github.com/star/isstrack/internal/metrics"
	"github.com/star/isstrack/internal/notify"
	"github.com/star/isstrack/internal/oem"
	"github.com/star/isstrack/internal/persist"
	"github.com/star/isstrack/internal/refresh"
	"github.com/star/isstrack/internal/stream"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresh loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	model, err := transform.ParseModel(cfg.Transform.Model)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := vectors.NewStore()

	snap, closeSnap, err := newSnapshotter(cfg)
	if err != nil {
		return err
	}
	defer closeSnap()
	if snap != nil {
		if t, err := persist.Restore(ctx, snap, store, logger); err != nil {
			logger.Warn("failed to restore snapshot", "component", "main", "error", err)
		} else if t != nil {
			metrics.SetTable(t.Generation(), t.Len())
		}
	}

	gt := groundtrack.NewBuilder(store, groundtrack.Config{
		Workers: cfg.Transform.GroundtrackWorkers,
		Model:   model,
	}, logger)

	// Hooks run after every install, in this order.
	var hooks []refresh.Hook
	if snap != nil {
		hooks = append(hooks, refresh.Hook{Name: "snapshot", Fn: snap.Save})
	}
	if cfg.Notify.NATSURL != "" {
		pub, err := notify.Connect(cfg.Notify.NATSURL, cfg.Notify.Subject, logger)
		if err != nil {
			logger.Warn("NATS unavailable, generation events disabled", "component", "main", "error", err)
		} else {
			defer pub.Close()
			hooks = append(hooks, refresh.Hook{Name: "notify", Fn: pub.Publish})
		}
	}
	hooks = append(hooks, refresh.Hook{Name: "groundtrack", Fn: gt.Warm})

	provider := oem.NewProvider(oem.NewFetcher(cfg.Source.URL, cfg.Source.Timeout, cfg.Source.MaxBodyBytes, logger), logger)
	sched, err := refresh.NewScheduler(store, provider, refresh.Config{
		Schedule:     cfg.Refresh.Schedule,
		FetchTimeout: cfg.Refresh.FetchTimeout,
		HookTimeout:  cfg.Refresh.HookTimeout,
		RetryInitial: cfg.Refresh.RetryInitial,
		RetryMax:     cfg.Refresh.RetryMax,
	}, logger, hooks...)
	if err != nil {
		return err
	}

	svc := tracker.New(store, newGeocoder(cfg, logger), model, logger)
	// The stream ticks every few seconds per client; it never geocodes.
	streamHandler := stream.NewHandler(tracker.New(store, nil, model, logger), store, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		MaxTotal:           cfg.Stream.MaxTotal,
		Interval:           cfg.Stream.Interval,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		TrustProxy:         cfg.HTTP.TrustProxy,
	}, logger)

	authCfg := auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}
	srv := api.NewServer(cfg.HTTP.Addr, logger, authCfg, api.Deps{
		Store:       store,
		Tracker:     svc,
		GroundTrack: gt,
		Refresher:   sched,
		Stream:      streamHandler,
		TrustProxy:  cfg.HTTP.TrustProxy,
	})

	if cfg.Refresh.Enabled {
		go sched.Run(ctx)
	} else {
		logger.Info("background refresh disabled", "component", "main")
	}

	// Background goroutine to update the table age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetTableAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"component", "main",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"source_url", cfg.Source.URL,
			"schedule", cfg.Refresh.Schedule,
			"snapshot_backend", cfg.Snapshot.Backend,
			"frame_model", model.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	}
	logger.Info("shutting down server...", "component", "main")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped", "component", "main")
	return nil
}

// newSnapshotter returns the configured backend, or nil for "none". The
// returned func releases any connection it opened.
func newSnapshotter(cfg *config.Config) (persist.Snapshotter, func(), error) {
	switch cfg.Snapshot.Backend {
	case "file":
		return persist.NewFileSnapshotter(cfg.Snapshot.Dir, cfg.Snapshot.MaxFiles), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Snapshot.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		return persist.NewRedisSnapshotter(client, cfg.Snapshot.RedisKey, cfg.Snapshot.RedisTTL), func() { client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// newGeocoder returns nil when reverse geocoding is disabled.
func newGeocoder(cfg *config.Config, logger *slog.Logger) tracker.Geocoder {
	if !cfg.Geocode.Enabled {
		return nil
	}
	return geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.UserAgent, cfg.Geocode.Timeout, logger)
}
