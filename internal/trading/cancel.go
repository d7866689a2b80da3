package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/messaging"
	"github.com/Aidin1998/tradecore/pkg/errors"
	"github.com/Aidin1998/tradecore/pkg/models"
)

var liveStatuses = []string{models.OrderStatusPending, models.OrderStatusOpen}

// CancelOrder cancels one of the caller's live orders.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return nil, errors.InvalidState.Explain("order %s is already %s", orderID, order.Status)
	}

	// settlement holds this lock, so a fill in flight completes first
	unlock := s.locks.Lock(order.UserID)
	defer unlock()
	return s.cancel(ctx, orderID, userID.String(), "")
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Order, error) {
	before, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	updates := map[string]interface{}{"status": models.OrderStatusCancelled}
	if reason != "" {
		updates["reject_reason"] = reason
	}
	ok, err := s.repo.TransitionOrder(ctx, id, liveStatuses, updates)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if !ok {
		current, gerr := s.repo.GetOrder(ctx, id)
		if gerr != nil {
			return nil, errors.Wrap(gerr)
		}
		return nil, errors.InvalidState.Explain("order %s is already %s", id, current.Status)
	}
	after, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	s.watcher.Unwatch(id)
	s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionOrderCancelled,
		EntityType: audit.EntityOrder,
		EntityID:   id.String(),
		Before:     before,
		After:      after,
	})
	s.notify(ctx, messaging.EventOrderCancelled, after.UserID, after)
	s.logger.Info("Order cancelled",
		zap.String("order_id", id.String()),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return after, nil
}

// ExpireDayOrders cancels live day orders created before the given instant
// and returns their ids.
func (s *Service) ExpireDayOrders(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	orders, err := s.repo.ListOrdersByStatus(ctx, liveStatuses...)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	var expired []uuid.UUID
	for i := range orders {
		o := &orders[i]
		if o.TimeInForce != models.TimeInForceDay || !o.CreatedAt.Before(before) {
			continue
		}
		unlock := s.locks.Lock(o.UserID)
		_, err := s.cancel(ctx, o.ID, audit.ActorSystem, "day order expired")
		unlock()
		if err != nil {
			if errors.Is(err, errors.InvalidState) {
				continue
			}
			return expired, err
		}
		expired = append(expired, o.ID)
	}
	return expired, nil
}

// OpenOrders returns every order the monitor should watch: open orders and
// market orders still pending for want of a price.
func (s *Service) OpenOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := s.repo.ListOrdersByStatus(ctx, liveStatuses...)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	watched := orders[:0]
	for _, o := range orders {
		if o.Status == models.OrderStatusOpen || o.Type == models.OrderTypeMarket {
			watched = append(watched, o)
		}
	}
	return watched, nil
}
