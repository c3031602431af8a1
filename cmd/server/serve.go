package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/countdown-renderer/internal/config"
	"github.com/koios/countdown-renderer/internal/engine"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/internal/handlers"
	"github.com/koios/countdown-renderer/internal/oneshot"
	"github.com/koios/countdown-renderer/internal/redis"
	"github.com/koios/countdown-renderer/internal/scheduler"
	"github.com/koios/countdown-renderer/internal/session"
	"github.com/koios/countdown-renderer/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live timer service (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		storeOpts = []session.Option{
			session.WithTTL(cfg.Session.TTL),
			session.WithSweepInterval(cfg.Session.SweepInterval),
		}
		listeners   []frame.Listener
		redisClient *redis.Client
	)

	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without mirror and events",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err))
		} else {
			defer redisClient.Close()
			storeOpts = append(storeOpts, session.WithMirror(session.NewRedisMirrorFromClient(redisClient.Redis())))
			listeners = append(listeners, redisClient)
		}
	}

	store := session.NewStore(models.LiveDefaults(time.Now()), logger, storeOpts...)

	var watcher *config.DefaultsWatcher
	if cfg.Defaults.Path != "" {
		watcher = config.NewDefaultsWatcher(cfg.Defaults.Path, store.SetDefaults, logger)
		if err := watcher.Reload(); err != nil {
			logger.Warn("Failed to load timer defaults, using built-in defaults",
				zap.String("path", cfg.Defaults.Path),
				zap.Error(err))
		}
	}

	if n, err := store.Restore(ctx); err != nil {
		logger.Warn("Failed to restore sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("Restored sessions", zap.Int("count", n))
	}

	listeners = append(listeners, frame.NewDiskMirror(cfg.Output.Dir, logger))
	slot := frame.NewSlot(listeners...)
	defer slot.Close()

	chromeOpts := engine.ChromeOptions{
		Width:       cfg.Render.ViewportWidth,
		Height:      cfg.Render.ViewportHeight,
		LoadTimeout: cfg.Render.LoadTimeout,
		ExecPath:    cfg.Render.ChromePath,
	}

	// Browsers outlive the signal context; they are torn down explicitly below
	liveEngine := engine.NewChrome(context.Background(), chromeOpts, logger.Named("live"))
	defer liveEngine.Teardown()

	generator := oneshot.NewGenerator(
		engine.NewChrome(context.Background(), chromeOpts, logger.Named("oneshot")),
		cfg.Output.Dir, logger)
	defer generator.Close()

	sched := scheduler.New(liveEngine, store, slot, logger, scheduler.Options{
		SessionID:     cfg.Render.SessionID,
		Interval:      cfg.Render.Interval,
		CheckInterval: cfg.Render.CheckInterval,
		BackoffBase:   cfg.Render.BackoffBase,
		BackoffMax:    cfg.Render.BackoffMax,
	})

	handlerOpts := handlers.Options{
		OutputDir:         cfg.Output.Dir,
		GeneratePerMinute: cfg.RateLimit.GeneratePerMinute,
		Version:           version,
		EngineReady:       liveEngine.Ready,
		GeneratorReady:    generator.Ready,
	}
	if redisClient != nil {
		handlerOpts.RedisHealthy = redisClient.IsHealthy
	}
	timerHandler := handlers.NewTimerHandler(store, slot, generator, handlerOpts, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      timerHandler.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	store.Start(gctx)
	defer store.Stop()
	sched.Start(gctx)
	defer sched.Stop()

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Give outstanding requests a deadline for completion
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if redisClient != nil && cfg.Redis.UpdateStream != "" {
		consumer := redis.NewConsumer(redisClient, handlers.NewEventHandler(store, logger), logger)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	if watcher != nil && cfg.Defaults.Watch {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Warn("Timer defaults watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("session_id", cfg.Render.SessionID),
		zap.String("output_dir", cfg.Output.Dir),
		zap.Bool("redis", redisClient != nil))

	err = g.Wait()
	logger.Info("Server shutdown complete")
	return err
}
