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

	"github.com/dvloznov/txingest/internal/api/handlers"
	"github.com/dvloznov/txingest/internal/app"
	"github.com/dvloznov/txingest/internal/config"
	"github.com/dvloznov/txingest/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("TXINGEST_CONFIG"), "path to a config file (or set TXINGEST_CONFIG env)")
		port       = flag.Int("port", 0, "HTTP server port, overrides the configured one")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if log, err = logger.WithLevel(log, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}

	// Workers are stopped through Shutdown so buffered jobs drain.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Artifacts:      a.Artifacts,
			Tracker:        a.Tracker,
			Repo:           a.Repo,
			MaxUploadBytes: cfg.MaxUploadBytes,
			Limiter:        limiter,
			Log:            log,
		}),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("db_driver", cfg.DBDriver).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if w := a.Watcher(); w != nil {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Error().Err(runErr).Msg("Server stopped with error")
	}

	// Stop job queue and wait for in-flight jobs
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Server exited")
	if runErr != nil {
		os.Exit(1)
	}
}
