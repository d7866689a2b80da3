package trading

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/errors"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// averagePricePlaces is the precision kept on weighted-average cost.
const averagePricePlaces = 8

// FillResult describes the ledger effect of one fill.
type FillResult struct {
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	PositionBefore *models.Position
	PositionAfter  *models.Position
	RealizedPnL    decimal.Decimal
}

// PositionClosed reports whether the fill took the position to zero.
func (r *FillResult) PositionClosed() bool {
	return r.PositionBefore != nil && r.PositionAfter == nil
}

// ApplyFill settles a fill against the user's balance and position. It must
// run on a transaction-bound repository with the user row already locked;
// any error leaves the caller to roll back.
func ApplyFill(ctx context.Context, tx *repository.Repository, userID, assetID uuid.UUID, symbol, side string, quantity, price, commission decimal.Decimal) (*FillResult, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("user %s not found", userID)
		}
		return nil, errors.Wrap(err)
	}

	res := &FillResult{BalanceBefore: user.Balance, RealizedPnL: decimal.Zero}

	pos, err := tx.GetPosition(ctx, userID, assetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, errors.Wrap(err)
	}
	if pos != nil {
		before := *pos
		res.PositionBefore = &before
	}

	notional := quantity.Mul(price)
	switch side {
	case models.SideBuy:
		user.Balance = user.Balance.Sub(notional).Sub(commission)
		if pos == nil {
			pos = &models.Position{
				ID:           uuid.New(),
				UserID:       userID,
				AssetID:      assetID,
				Symbol:       symbol,
				Quantity:     quantity,
				AveragePrice: price,
				RealizedPnL:  decimal.Zero,
			}
			if err := tx.CreatePosition(ctx, pos); err != nil {
				return nil, errors.Wrap(err)
			}
		} else {
			newQty := pos.Quantity.Add(quantity)
			pos.AveragePrice = pos.Quantity.Mul(pos.AveragePrice).Add(notional).
				Div(newQty).Round(averagePricePlaces)
			pos.Quantity = newQty
			if err := tx.SavePosition(ctx, pos); err != nil {
				return nil, errors.Wrap(err)
			}
		}
		res.PositionAfter = pos

	case models.SideSell:
		if pos == nil || pos.Quantity.LessThan(quantity) {
			held := decimal.Zero
			if pos != nil {
				held = pos.Quantity
			}
			return nil, errors.InsufficientPosition.Explain("cannot sell %s %s, holding %s",
				quantity.String(), symbol, held.String())
		}
		user.Balance = user.Balance.Add(notional).Sub(commission)
		res.RealizedPnL = price.Sub(pos.AveragePrice).Mul(quantity)
		pos.Quantity = pos.Quantity.Sub(quantity)
		pos.RealizedPnL = pos.RealizedPnL.Add(res.RealizedPnL)
		if pos.Quantity.IsZero() {
			if err := tx.DeletePosition(ctx, pos.ID); err != nil {
				return nil, errors.Wrap(err)
			}
		} else {
			if err := tx.SavePosition(ctx, pos); err != nil {
				return nil, errors.Wrap(err)
			}
			res.PositionAfter = pos
		}

	default:
		return nil, errors.Validation.Explain("unknown side %q", side)
	}

	if err := tx.UpdateUserBalance(ctx, user); err != nil {
		return nil, errors.Wrap(err)
	}
	res.BalanceAfter = user.Balance
	return res, nil
}
