// Package trading owns the order lifecycle: intake, settlement against the
// cached asset price, cancellation and expiry.
package trading

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/messaging"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// DefaultCommissionRate is charged on notional when none is configured.
var DefaultCommissionRate = decimal.RequireFromString("0.001")

// Watcher tracks resting orders for price crossings
type Watcher interface {
	Watch(o *models.Order)
	Unwatch(id uuid.UUID)
}

type nopWatcher struct{}

func (nopWatcher) Watch(*models.Order) {}
func (nopWatcher) Unwatch(uuid.UUID)   {}

// Config holds trading parameters
type Config struct {
	CommissionRate     decimal.Decimal
	DefaultTimeInForce string
}

// Service implements order placement and settlement
type Service struct {
	repo     *repository.Repository
	audit    *audit.Recorder
	notifier messaging.Notifier
	watcher  Watcher
	validate *validator.Validate
	locks    *userLocks
	cfg      Config
	logger   *zap.Logger

	// fundsChecked runs after the intake funds check passes; tests use it
	// to interleave a competing order.
	fundsChecked func()
}

// NewService creates a new trading service
func NewService(repo *repository.Repository, recorder *audit.Recorder, notifier messaging.Notifier, cfg Config, logger *zap.Logger) *Service {
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = DefaultCommissionRate
	}
	if cfg.DefaultTimeInForce == "" {
		cfg.DefaultTimeInForce = models.TimeInForceGTC
	}
	if notifier == nil {
		notifier = messaging.Nop{}
	}
	return &Service{
		repo:     repo,
		audit:    recorder,
		notifier: notifier,
		watcher:  nopWatcher{},
		validate: validator.New(),
		locks:    newUserLocks(),
		cfg:      cfg,
		logger:   logger,
	}
}

// SetWatcher registers the trigger monitor. Must be called before orders
// are placed.
func (s *Service) SetWatcher(w Watcher) {
	s.watcher = w
}

// Commission returns the fee charged on a notional amount.
func (s *Service) Commission(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(s.cfg.CommissionRate)
}

func (s *Service) notify(ctx context.Context, t messaging.EventType, userID uuid.UUID, data interface{}) {
	s.notifier.Notify(ctx, messaging.NewEvent(t, userID, data))
}
