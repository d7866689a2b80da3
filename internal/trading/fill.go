package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/audit"
	"github.com/Aidin1998/tradecore/internal/messaging"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/internal/trading/trigger"
	"github.com/Aidin1998/tradecore/pkg/errors"
	"github.com/Aidin1998/tradecore/pkg/metrics"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// errNotCrossed aborts a fill whose price condition no longer holds against
// the authoritative asset price.
var errNotCrossed = errors.InvalidState.Explain("order price condition not met")

type settlement struct {
	before *models.Order
	order  *models.Order
	trade  *models.Trade
	ledger *FillResult
}

// ExecuteTriggered fills an order the monitor found crossed: an open order
// or a market order that was waiting for a price. An order whose condition
// no longer holds is returned unchanged without error.
func (s *Service) ExecuteTriggered(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.executeOrder(ctx, id, audit.ActorSystem)
}

// executeOrder fills the whole order at the asset's current price in a
// single transaction. Business rejections roll the fill back and then mark
// the order rejected.
func (s *Service) executeOrder(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("order %s not found", id)
		}
		return nil, errors.Wrap(err)
	}

	unlock := s.locks.Lock(order.UserID)
	defer unlock()

	start := time.Now()
	var st *settlement
	err = s.repo.ExecuteInTransaction(ctx, func(tx *repository.Repository) error {
		var terr error
		st, terr = s.settle(ctx, tx, id)
		return terr
	})
	if err != nil {
		return s.fillFailed(ctx, id, actor, err)
	}
	metrics.FillLatency.Observe(time.Since(start).Seconds())
	metrics.Fills.WithLabelValues(st.order.Side).Inc()

	s.recordFill(ctx, actor, st)
	s.watcher.Unwatch(id)

	s.logger.Info("Order filled",
		zap.String("order_id", id.String()),
		zap.String("trade_id", st.trade.ID.String()),
		zap.String("symbol", st.trade.Symbol),
		zap.String("side", st.trade.Side),
		zap.String("quantity", st.trade.Quantity.String()),
		zap.String("price", st.trade.Price.String()),
		zap.String("commission", st.trade.Commission.String()))
	return st.order, nil
}

func (s *Service) settle(ctx context.Context, tx *repository.Repository, id uuid.UUID) (*settlement, error) {
	order, err := tx.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	user, err := tx.LockUser(ctx, order.UserID)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusOpen {
		return nil, errors.InvalidState.Explain("order %s is %s", order.ID, order.Status)
	}

	// the only price read of this fill
	asset, err := tx.GetAsset(ctx, order.AssetID)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if !asset.Price.Valid {
		return nil, errors.NoPriceAvailable.Explain("no price available for %s", asset.Symbol)
	}
	price := asset.Price.Decimal

	if order.Type != models.OrderTypeMarket && trigger.Evaluate(order, price) != trigger.ActionFill {
		return nil, errNotCrossed
	}
	// the balance may have moved since intake
	if order.Side == models.SideBuy {
		cost := order.Quantity.Mul(price)
		if cost.GreaterThan(user.Balance) {
			return nil, errors.InsufficientFunds.Explain("order cost %s exceeds balance %s",
				cost.String(), user.Balance.String())
		}
	}

	commission := s.Commission(order.Quantity.Mul(price))
	ledger, err := ApplyFill(ctx, tx, order.UserID, order.AssetID, order.Symbol, order.Side,
		order.Quantity, price, commission)
	if err != nil {
		return nil, err
	}

	trade := &models.Trade{
		ID:          uuid.New(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		AssetID:     order.AssetID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       price,
		Commission:  commission,
		RealizedPnL: ledger.RealizedPnL,
	}
	if err := tx.CreateTrade(ctx, trade); err != nil {
		return nil, errors.Wrap(err)
	}

	before := *order
	avg := price
	order.Status = models.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AveragePrice = &avg
	if err := tx.SaveOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err)
	}

	return &settlement{before: &before, order: order, trade: trade, ledger: ledger}, nil
}

func (s *Service) fillFailed(ctx context.Context, id uuid.UUID, actor string, err error) (*models.Order, error) {
	switch {
	case err == errNotCrossed:
		return s.currentOrder(ctx, id)

	case errors.Is(err, errors.InsufficientPosition), errors.Is(err, errors.InsufficientFunds):
		metrics.OrdersRejected.WithLabelValues(errors.KindOf(err)).Inc()
		rejected, rerr := s.reject(ctx, id, actor, err.Error())
		if rerr != nil {
			s.logger.Error("Failed to mark order rejected", zap.String("order_id", id.String()), zap.Error(rerr))
		}
		return rejected, err

	case errors.Is(err, errors.NoPriceAvailable), errors.Is(err, errors.InvalidState):
		order, _ := s.currentOrder(ctx, id)
		return order, err
	}

	s.logger.Error("Fill failed", zap.String("order_id", id.String()), zap.Error(err))
	if errors.KindOf(err) == errors.KindInternal {
		return nil, errors.Internal.Explain("fill failed").Wrap(err)
	}
	return nil, err
}

func (s *Service) currentOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return order, nil
}

// reject marks a live order rejected with reason
func (s *Service) reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Order, error) {
	before, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	ok, err := s.repo.TransitionOrder(ctx, id,
		[]string{models.OrderStatusPending, models.OrderStatusOpen},
		map[string]interface{}{"status": models.OrderStatusRejected, "reject_reason": reason})
	if err != nil {
		return nil, errors.Wrap(err)
	}
	after, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if !ok {
		return after, nil
	}
	s.watcher.Unwatch(id)
	s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionOrderRejected,
		EntityType: audit.EntityOrder,
		EntityID:   id.String(),
		Before:     before,
		After:      after,
	})
	s.notify(ctx, messaging.EventOrderRejected, after.UserID, after)
	s.logger.Warn("Order rejected", zap.String("order_id", id.String()), zap.String("reason", reason))
	return after, nil
}

func (s *Service) recordFill(ctx context.Context, actor string, st *settlement) {
	order, trade, ledger := st.order, st.trade, st.ledger
	entries := []audit.Entry{
		{
			Actor:      actor,
			Action:     audit.ActionOrderFilled,
			EntityType: audit.EntityOrder,
			EntityID:   order.ID.String(),
			Before:     st.before,
			After:      order,
		},
		{
			Actor:      actor,
			Action:     audit.ActionTradeCreated,
			EntityType: audit.EntityTrade,
			EntityID:   trade.ID.String(),
			After:      trade,
		},
	}

	posEntry := audit.Entry{Actor: actor, EntityType: audit.EntityPosition}
	switch {
	case ledger.PositionBefore == nil:
		posEntry.Action = audit.ActionPositionOpened
		posEntry.EntityID = ledger.PositionAfter.ID.String()
	case ledger.PositionClosed():
		posEntry.Action = audit.ActionPositionClosed
		posEntry.EntityID = ledger.PositionBefore.ID.String()
	default:
		posEntry.Action = audit.ActionPositionUpdated
		posEntry.EntityID = ledger.PositionAfter.ID.String()
	}
	if ledger.PositionBefore != nil {
		posEntry.Before = ledger.PositionBefore
	}
	if ledger.PositionAfter != nil {
		posEntry.After = ledger.PositionAfter
	}
	entries = append(entries, posEntry, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionBalanceUpdated,
		EntityType: audit.EntityUser,
		EntityID:   order.UserID.String(),
		Before:     balanceState{Balance: ledger.BalanceBefore},
		After:      balanceState{Balance: ledger.BalanceAfter},
	})
	s.audit.Record(ctx, entries...)

	s.notify(ctx, messaging.EventOrderFilled, order.UserID, order)
	s.notify(ctx, messaging.EventTradeCreated, order.UserID, trade)
	if ledger.PositionClosed() {
		s.notify(ctx, messaging.EventPositionClosed, order.UserID, ledger.PositionBefore)
	} else {
		s.notify(ctx, messaging.EventPositionUpdated, order.UserID, ledger.PositionAfter)
	}
	s.notify(ctx, messaging.EventBalanceUpdated, order.UserID, balanceState{Balance: ledger.BalanceAfter})
}

type balanceState struct {
	Balance decimal.Decimal `json:"balance"`
}

// TriggerStop arms a stop-limit order so that it rests as a limit order.
func (s *Service) TriggerStop(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	before, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("order %s not found", id)
		}
		return nil, errors.Wrap(err)
	}
	if before.Type != models.OrderTypeStopLimit {
		return before, errors.InvalidState.Explain("order %s is not a stop-limit order", id)
	}
	if before.StopTriggered {
		return before, nil
	}
	ok, err := s.repo.TransitionOrder(ctx, id, []string{models.OrderStatusOpen},
		map[string]interface{}{"stop_triggered": true})
	if err != nil {
		return nil, errors.Wrap(err)
	}
	after, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if !ok {
		return after, errors.InvalidState.Explain("order %s is %s", id, after.Status)
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      audit.ActorSystem,
		Action:     audit.ActionOrderStopTriggered,
		EntityType: audit.EntityOrder,
		EntityID:   id.String(),
		Before:     before,
		After:      after,
	})
	return after, nil
}
