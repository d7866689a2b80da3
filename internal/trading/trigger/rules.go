package trigger

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/tradecore/pkg/models"
)

// Action is what a price observation means for an order
type Action int

const (
	// ActionNone leaves the order resting
	ActionNone Action = iota
	// ActionFill executes the order at the observed price
	ActionFill
	// ActionTriggerStop arms a stop-limit order; it then rests as a limit order
	ActionTriggerStop
)

func (a Action) String() string {
	switch a {
	case ActionFill:
		return "fill"
	case ActionTriggerStop:
		return "trigger_stop"
	}
	return "none"
}

// Evaluate applies the crossing rules to order at last price p:
//
//	buy limit   fills when p <= limit
//	sell limit  fills when p >= limit
//	buy stop    fires when p >= stop
//	sell stop   fires when p <= stop
//
// A stop-limit order is armed by its stop and afterwards follows the limit rule.
func Evaluate(o *models.Order, p decimal.Decimal) Action {
	switch o.Type {
	case models.OrderTypeMarket:
		return ActionFill
	case models.OrderTypeLimit:
		if limitCrossed(o, p) {
			return ActionFill
		}
	case models.OrderTypeStop:
		if stopCrossed(o, p) {
			return ActionFill
		}
	case models.OrderTypeStopLimit:
		if !o.StopTriggered {
			if stopCrossed(o, p) {
				return ActionTriggerStop
			}
			return ActionNone
		}
		if limitCrossed(o, p) {
			return ActionFill
		}
	}
	return ActionNone
}

func limitCrossed(o *models.Order, p decimal.Decimal) bool {
	if o.Price == nil {
		return false
	}
	if o.Side == models.SideBuy {
		return p.LessThanOrEqual(*o.Price)
	}
	return p.GreaterThanOrEqual(*o.Price)
}

func stopCrossed(o *models.Order, p decimal.Decimal) bool {
	if o.StopPrice == nil {
		return false
	}
	if o.Side == models.SideBuy {
		return p.GreaterThanOrEqual(*o.StopPrice)
	}
	return p.LessThanOrEqual(*o.StopPrice)
}
