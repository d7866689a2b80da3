package trading

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/errors"
	"github.com/Aidin1998/tradecore/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// GetOrder returns one of the caller's orders. Orders owned by someone else
// are reported as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("order %s not found", orderID)
		}
		return nil, errors.Wrap(err)
	}
	if order.UserID != userID {
		return nil, errors.NotFound.Explain("order %s not found", orderID)
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]models.Order, error) {
	filter.Limit = pageSize(filter.Limit)
	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return orders, nil
}

// ListTrades returns the caller's trades, newest first.
func (s *Service) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Trade, error) {
	trades, err := s.repo.ListTrades(ctx, userID, pageSize(limit), offset)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return trades, nil
}

// ListPositions returns the caller's open positions.
func (s *Service) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	positions, err := s.repo.ListPositions(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return positions, nil
}

// Balance is the caller's cash account
type Balance struct {
	UserID   uuid.UUID       `json:"userId"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// GetBalance returns the caller's balance
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("user %s not found", userID)
		}
		return nil, errors.Wrap(err)
	}
	return &Balance{UserID: user.ID, Currency: user.Currency, Balance: user.Balance}, nil
}

// OrderAudit returns the audit trail of one of the caller's orders and of
// the trades it produced, oldest first.
func (s *Service) OrderAudit(ctx context.Context, userID, orderID uuid.UUID) ([]models.AuditLog, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	entries, err := s.audit.List(ctx, audit.EntityOrder, orderID.String())
	if err != nil {
		return nil, errors.Wrap(err)
	}
	trades, err := s.repo.TradesByOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	for _, t := range trades {
		te, err := s.audit.List(ctx, audit.EntityTrade, t.ID.String())
		if err != nil {
			return nil, errors.Wrap(err)
		}
		entries = append(entries, te...)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}
