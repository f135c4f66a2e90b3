// Package smokelog provides the consumption-log service: interval lock
// evaluation, event commits, the violation ledger, supply inventory and
// civil-calendar statistics.
package smokelog

import (
	"context"
	"fmt"
	"time"

	"github.com/emberlog/service_layer/internal/civiltime"
	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/guard"
	"github.com/emberlog/service_layer/internal/logging"
	"github.com/emberlog/service_layer/internal/metrics"
	"github.com/emberlog/service_layer/internal/storage"
	commonservice "github.com/emberlog/service_layer/services/common/service"
)

// =============================================================================
// Service Constants
// =============================================================================

const (
	ServiceID   = "smokelog"
	ServiceName = "Smokelog Service"
	Version     = "1.0.0"
)

// Violation list bounds applied when Config leaves them unset.
const (
	DefaultViolationLimit = 50
	MaxViolationLimit     = 500
)

// healthInterval is how often the store is pinged in the background.
const healthInterval = 30 * time.Second

// =============================================================================
// Service Definition
// =============================================================================

// Service implements the smokelog operations over a storage.Store.
type Service struct {
	*commonservice.BaseService

	store   storage.Store
	clock   clock.Clock
	cal     civiltime.Calendar
	guard   guard.CommitGuard
	log     *logging.Logger
	metrics *metrics.Metrics

	violationLimit    int
	maxViolationLimit int
}

// Config holds smokelog service dependencies. Only Store is required.
type Config struct {
	Store    storage.Store
	Clock    clock.Clock
	Calendar *civiltime.Calendar
	Guard    guard.CommitGuard
	Logger   *logging.Logger
	Metrics  *metrics.Metrics

	ViolationLimit    int
	MaxViolationLimit int
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new smokelog service and registers its routes.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("smokelog: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.SystemClock{}
	}
	cal := civiltime.Default()
	if cfg.Calendar != nil {
		cal = *cfg.Calendar
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(ServiceID, "info", "json")
	}
	if cfg.MaxViolationLimit <= 0 {
		cfg.MaxViolationLimit = MaxViolationLimit
	}
	if cfg.ViolationLimit <= 0 {
		cfg.ViolationLimit = DefaultViolationLimit
	}
	if cfg.ViolationLimit > cfg.MaxViolationLimit {
		return nil, fmt.Errorf("smokelog: default violation limit %d exceeds max %d", cfg.ViolationLimit, cfg.MaxViolationLimit)
	}

	base := commonservice.NewBase(commonservice.BaseConfig{
		ID:      ServiceID,
		Name:    ServiceName,
		Version: Version,
		Store:   cfg.Store,
		Logger:  cfg.Logger,
	})

	s := &Service{
		BaseService:       base,
		store:             cfg.Store,
		clock:             cfg.Clock,
		cal:               cal,
		guard:             cfg.Guard,
		log:               cfg.Logger,
		metrics:           cfg.Metrics,
		violationLimit:    cfg.ViolationLimit,
		maxViolationLimit: cfg.MaxViolationLimit,
	}

	base.AddTickerWorker(healthInterval, s.pingStore)
	base.WithStats(s.stats)

	s.registerRoutes()
	return s, nil
}

func (s *Service) pingStore(ctx context.Context) error {
	return s.CheckHealth(ctx)
}

func (s *Service) stats() map[string]any {
	return map[string]any{
		"civil_zone":      s.cal.Location().String(),
		"violation_limit": s.violationLimit,
	}
}

// now returns the true UTC instant used for elapsed-time arithmetic.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
