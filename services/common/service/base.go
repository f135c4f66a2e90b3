package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/emberlog/service_layer/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is the dependency check behind /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Store   Pinger
	Logger  *logging.Logger
}

// BaseService provides the router, health tracking and background worker
// lifecycle shared by HTTP services.
type BaseService struct {
	id      string
	name    string
	version string
	router  *mux.Router
	store   Pinger
	logger  *logging.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	workers  []func(context.Context)

	statsFn func() map[string]any

	// Health tracking
	healthMu        sync.RWMutex
	storeHealthy    bool
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &BaseService{
		id:           cfg.ID,
		name:         cfg.Name,
		version:      cfg.Version,
		router:       mux.NewRouter(),
		store:        cfg.Store,
		logger:       logger,
		stopCh:       make(chan struct{}),
		storeHealthy: true,
	}
}

func (b *BaseService) ID() string              { return b.id }
func (b *BaseService) Name() string            { return b.name }
func (b *BaseService) Version() string         { return b.version }
func (b *BaseService) Router() *mux.Router     { return b.router }
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddTickerWorker registers a periodic background worker. Errors are logged
// and the loop continues until Stop or context cancellation.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithContext(ctx).WithError(err).Warn("worker error")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start records the start time and spins up registered workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	for _, w := range b.workers {
		worker := w
		go worker(ctx)
	}
	b.logger.WithContext(ctx).WithField("workers", len(b.workers)).Info("service started")
	return nil
}

// Stop signals workers. It is idempotent.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// CheckHealth refreshes the cached health state by probing the store.
func (b *BaseService) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	healthy := true
	var err error
	if b.store != nil {
		if err = b.store.Ping(ctx); err != nil {
			healthy = false
		}
	}

	b.healthMu.Lock()
	b.storeHealthy = healthy
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
	return err
}

// HealthStatus pings dependencies and returns "healthy" or "unhealthy".
func (b *BaseService) HealthStatus(ctx context.Context) string {
	_ = b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	if !b.storeHealthy {
		return "unhealthy"
	}
	return "healthy"
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"store_connected": b.storeHealthy,
		"last_check":      "",
	}
	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	}
	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()
	return details
}
