// Package main runs the smokelog HTTP service.
// The storage backend, auth mode and commit guard are selected by configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/emberlog/service_layer/internal/civiltime"
	"github.com/emberlog/service_layer/internal/config"
	"github.com/emberlog/service_layer/internal/database"
	"github.com/emberlog/service_layer/internal/guard"
	"github.com/emberlog/service_layer/internal/logging"
	"github.com/emberlog/service_layer/internal/metrics"
	"github.com/emberlog/service_layer/internal/middleware"
	"github.com/emberlog/service_layer/internal/platform/migrations"
	"github.com/emberlog/service_layer/internal/storage"
	"github.com/emberlog/service_layer/internal/storage/memory"
	"github.com/emberlog/service_layer/internal/storage/postgres"
	"github.com/emberlog/service_layer/services/smokelog"
	smokelogsupabase "github.com/emberlog/service_layer/services/smokelog/supabase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(smokelog.ServiceID, cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("smokelog service exited")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	commitGuard, closeGuard, err := guard.New(ctx, guard.Options{
		Mode:     cfg.Redis.CommitGuard,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.GuardTTL,
	})
	if err != nil {
		return fmt.Errorf("commit guard: %w", err)
	}
	defer func() {
		if err := closeGuard(); err != nil {
			logger.WithError(err).Warn("Failed to close commit guard")
		}
	}()

	m := metrics.New()
	cal := civiltime.NewHours(cfg.Civil.OffsetHours)

	svc, err := smokelog.New(smokelog.Config{
		Store:             store,
		Calendar:          &cal,
		Guard:             commitGuard,
		Logger:            logger,
		Metrics:           m,
		ViolationLimit:    cfg.Violations.DefaultLimit,
		MaxViolationLimit: cfg.Violations.MaxLimit,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	router := svc.Router()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	handler, limiter, err := buildHandler(router, cfg, logger, m)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.StopCleanup()
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).
			WithField("store", cfg.Store.Backend).
			WithField("civil_zone", cal.Location().String()).
			Info("smokelog service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown error")
	}
	if err := svc.Stop(); err != nil {
		logger.WithError(err).Warn("Service stop error")
	}
	logger.Info("Service stopped")
	return nil
}

// openStore builds the configured storage backend and its closer.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (storage.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreSupabase:
		client, err := database.NewClient(database.Config{
			URL:        cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		return smokelogsupabase.NewRepository(database.NewRepository(client)), func() {}, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.Options{
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			ConnMaxLife:  cfg.Postgres.ConnMaxLife,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := migrations.Up(db.DB); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("Database migrations applied")
		}
		return postgres.New(db), func() {
			if err := db.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close database")
			}
		}, nil

	case config.StoreMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildHandler wraps router in the request chain, outermost first: tracing,
// CORS, metrics, caller identity, rate limiting. The chain wraps the router
// rather than using Router.Use so preflight, 404 and 405 responses pass
// through it as well.
func buildHandler(router *mux.Router, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (http.Handler, *middleware.RateLimiter, error) {
	chain := []func(http.Handler) http.Handler{
		middleware.NewTracingMiddleware(logger).Handler,
		middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Handler,
		middleware.MetricsMiddleware(smokelog.ServiceID, m, router),
	}

	switch cfg.Auth.Mode {
	case config.AuthJWT:
		key, err := cfg.Auth.PublicKey()
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, middleware.NewAuthMiddleware(key, cfg.Auth.Audience, logger, cfg.Auth.SkipPaths).Handler)
	case config.AuthHeader:
		logger.Warn("Trusting X-User-ID header; run behind an authenticating gateway")
		chain = append(chain, middleware.NewTrustedHeaderMiddleware(logger, cfg.Auth.SkipPaths).Handler)
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
		if err := limiter.StartCleanup(cfg.RateLimit.CleanupSpec); err != nil {
			return nil, nil, fmt.Errorf("rate limiter cleanup: %w", err)
		}
		chain = append(chain, limiter.Handler)
	}

	return middleware.Chain(router, chain...), limiter, nil
}
