// SPDX-License-Identifier: MIT

// Command campaignd runs the campaign lifecycle engine: it follows one
// campaign's event stream, arbitrates component activation, and serves the
// resulting state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shopstream/campaign-engine/internal/api"
	"github.com/shopstream/campaign-engine/internal/backend"
	"github.com/shopstream/campaign-engine/internal/bus"
	"github.com/shopstream/campaign-engine/internal/cache"
	"github.com/shopstream/campaign-engine/internal/config"
	"github.com/shopstream/campaign-engine/internal/coordinator"
	"github.com/shopstream/campaign-engine/internal/log"
	"github.com/shopstream/campaign-engine/internal/retry"
	"github.com/shopstream/campaign-engine/internal/stream"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "campaignd", Version: version})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "campaignd", Version: version})

	if err := run(ctx, cfg, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

// engineHandle lets the HTTP surface keep serving across a coordinator swap
// on config reload.
type engineHandle struct {
	mu    sync.RWMutex
	coord *coordinator.Coordinator
}

func (h *engineHandle) get() *coordinator.Coordinator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.coord
}

func (h *engineHandle) swap(c *coordinator.Coordinator) *coordinator.Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.coord
	h.coord = c
	return old
}

func (h *engineHandle) Status() coordinator.Snapshot { return h.get().Status() }

func (h *engineHandle) IsTypeVisible(componentType string) bool {
	return h.get().Registry().IsTypeVisible(componentType)
}

func run(ctx context.Context, cfg config.Config, configPath string) error {
	logger := log.WithComponent("main")

	store, ready, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	notifier := bus.New(cfg.BusBuffer, log.Base())
	defer notifier.Close()

	coord, err := buildCoordinator(ctx, cfg, store, notifier)
	if err != nil {
		return err
	}
	handle := &engineHandle{coord: coord}
	defer func() { handle.get().Close() }()

	apiServer := api.NewServer(handle, handle, ready, log.Base())
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Router(api.Config{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Config file changes rebuild the engine; a failed rebuild keeps the
	// running one.
	watcher := config.NewWatcher(configPath, func(newCfg config.Config) {
		replacement, err := buildCoordinator(ctx, newCfg, store, notifier)
		if err != nil {
			logger.Error().Err(err).Msg("config change rejected, keeping running engine")
			return
		}
		if old := handle.swap(replacement); old != nil {
			old.Close()
		}
		logger.Info().Int(log.FieldCampaignID, newCfg.CampaignID).Msg("engine rebuilt from new configuration")
	})
	if err := watcher.Start(ctx); err != nil {
		// Best effort: a dead watcher is not worth killing the daemon.
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}

	// SIGHUP forces a reconnect with the current configuration.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info().Msg("received SIGHUP, reinitializing engine")
				if err := handle.get().Reinitialize(ctx); err != nil {
					logger.Error().Err(err).Msg("reinitialize failed")
				}
			}
		}
	})

	return g.Wait()
}

// newStore picks Redis when configured, in-memory otherwise.
func newStore(ctx context.Context, cfg config.Config) (cache.Store, func() error, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStore(), nil, nil
	}
	rs, err := cache.NewRedisStore(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	}, log.Base())
	if err != nil {
		return nil, nil, fmt.Errorf("redis store: %w", err)
	}
	ready := func() error {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rs.HealthCheck(checkCtx)
	}
	return rs, ready, nil
}

func buildCoordinator(ctx context.Context, cfg config.Config, store cache.Store, notifier *bus.Bus) (*coordinator.Coordinator, error) {
	be := backend.New(cfg.APIBaseURL, cfg.APIKey, log.Base(),
		backend.WithRetryPolicy(retry.NewPolicy(cfg.FetchMaxAttempts, cfg.FetchBaseDelay, cfg.FetchMaxDelay)))

	newSource := func() coordinator.EventSource {
		return stream.New(stream.Config{
			BaseURL:              cfg.EffectiveStreamBaseURL(),
			APIKey:               cfg.APIKey,
			CampaignID:           cfg.CampaignID,
			HandshakeTimeout:     cfg.ConnectTimeout,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			BaseReconnectDelay:   cfg.ReconnectBaseDelay,
			MaxReconnectDelay:    cfg.ReconnectMaxDelay,
		}, log.Base())
	}

	coord := coordinator.New(coordinator.Config{
		CampaignID: cfg.CampaignID,
		CacheTTL:   cfg.CacheTTL,
		ConfigHash: cfg.Hash(),
	}, be, newSource, store, notifier, log.Base())

	if err := coord.Start(ctx); err != nil {
		return nil, fmt.Errorf("start coordinator: %w", err)
	}
	return coord, nil
}
