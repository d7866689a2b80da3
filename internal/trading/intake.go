package trading

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
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

// PlaceOrderRequest is the caller's order. Either AssetID or Symbol
// identifies the asset.
type PlaceOrderRequest struct {
	AssetID     string           `json:"assetId" validate:"omitempty,uuid"`
	Symbol      string           `json:"symbol" validate:"required_without=AssetID"`
	Type        string           `json:"type" validate:"required,oneof=market limit stop stop_limit"`
	Side        string           `json:"side" validate:"required,oneof=buy sell"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce string           `json:"timeInForce" validate:"omitempty,oneof=day gtc ioc fok"`
}

var requestFields = map[string]string{
	"AssetID":     "assetId",
	"Symbol":      "symbol",
	"Type":        "type",
	"Side":        "side",
	"TimeInForce": "timeInForce",
}

func (s *Service) validateRequest(req *PlaceOrderRequest) error {
	verr := errors.Validation.Explain("invalid order request")
	invalid := false
	fail := func(field, msg string) {
		verr = verr.WithField(field, msg)
		invalid = true
	}

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Wrap(err)
		}
		for _, fe := range fieldErrs {
			name := requestFields[fe.StructField()]
			switch fe.Tag() {
			case "required", "required_without":
				fail(name, "is required")
			case "oneof":
				fail(name, "must be one of: "+fe.Param())
			default:
				fail(name, "is invalid")
			}
		}
	}

	if !req.Quantity.IsPositive() {
		fail("quantity", "must be greater than zero")
	}
	needsPrice := req.Type == models.OrderTypeLimit || req.Type == models.OrderTypeStopLimit
	if needsPrice && req.Price == nil {
		fail("price", "is required for "+req.Type+" orders")
	}
	if req.Price != nil && !req.Price.IsPositive() {
		fail("price", "must be greater than zero")
	}
	needsStop := req.Type == models.OrderTypeStop || req.Type == models.OrderTypeStopLimit
	if needsStop && req.StopPrice == nil {
		fail("stopPrice", "is required for "+req.Type+" orders")
	}
	if req.StopPrice != nil && !req.StopPrice.IsPositive() {
		fail("stopPrice", "must be greater than zero")
	}

	if invalid {
		return verr
	}
	return nil
}

// PlaceOrder validates and persists an order. Market orders are filled
// immediately; other types open and either execute at once or rest with the
// trigger monitor.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, req PlaceOrderRequest) (*models.Order, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.validateRequest(&req); err != nil {
		metrics.OrdersRejected.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}

	asset, err := s.resolveAsset(ctx, req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound.Explain("user %s not found", userID)
		}
		return nil, errors.Wrap(err)
	}

	if req.Side == models.SideBuy {
		effective := req.Price
		if effective == nil && asset.Price.Valid {
			effective = &asset.Price.Decimal
		}
		if effective != nil {
			cost := req.Quantity.Mul(*effective)
			if cost.GreaterThan(user.Balance) {
				metrics.OrdersRejected.WithLabelValues(errors.KindInsufficientFunds).Inc()
				return nil, errors.InsufficientFunds.Explain("order cost %s exceeds balance %s", cost.String(), user.Balance.String())
			}
		}
	}
	if s.fundsChecked != nil {
		s.fundsChecked()
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = s.cfg.DefaultTimeInForce
	}
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         user.ID,
		AssetID:        asset.ID,
		Symbol:         asset.Symbol,
		Type:           req.Type,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		TimeInForce:    tif,
		Status:         models.OrderStatusPending,
		FilledQuantity: decimal.Zero,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, errors.Wrap(err)
	}

	actor := userID.String()
	s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionOrderCreated,
		EntityType: audit.EntityOrder,
		EntityID:   order.ID.String(),
		After:      order,
	})
	s.notify(ctx, messaging.EventOrderCreated, order.UserID, order)
	metrics.OrdersPlaced.WithLabelValues(order.Type, order.Side).Inc()

	s.logger.Info("Order accepted",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", actor),
		zap.String("symbol", order.Symbol),
		zap.String("type", order.Type),
		zap.String("side", order.Side),
		zap.String("quantity", order.Quantity.String()))

	if order.Type == models.OrderTypeMarket {
		return s.executeMarket(ctx, order.ID, actor)
	}
	return s.openOrder(ctx, order, actor)
}

// executeMarket fills a new market order. Without a price the order stays
// pending and waits for the next tick of its symbol, unless its time in
// force demands immediate execution.
func (s *Service) executeMarket(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error) {
	order, err := s.executeOrder(ctx, id, actor)
	if !errors.Is(err, errors.NoPriceAvailable) || order == nil || order.Status != models.OrderStatusPending {
		return order, err
	}
	if immediateOnly(order.TimeInForce) {
		return s.cancel(ctx, order.ID, actor, "not immediately executable")
	}
	s.watcher.Watch(order)
	return order, err
}

func immediateOnly(tif string) bool {
	return tif == models.TimeInForceIOC || tif == models.TimeInForceFOK
}

func (s *Service) resolveAsset(ctx context.Context, req PlaceOrderRequest) (*models.Asset, error) {
	var (
		asset *models.Asset
		err   error
	)
	if req.AssetID != "" {
		id, perr := uuid.Parse(req.AssetID)
		if perr != nil {
			return nil, errors.Validation.Explain("invalid asset id").WithField("assetId", "must be a UUID")
		}
		asset, err = s.repo.GetAsset(ctx, id)
	} else {
		asset, err = s.repo.GetAssetBySymbol(ctx, req.Symbol)
	}
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, errors.Wrap(err)
	}

	verr := errors.Validation.Explain("asset does not exist")
	if req.AssetID != "" {
		return nil, verr.WithField("assetId", "unknown asset")
	}
	if hint := s.suggestSymbol(ctx, req.Symbol); hint != "" {
		return nil, verr.WithField("symbol", "unknown symbol, did you mean "+hint+"?")
	}
	return nil, verr.WithField("symbol", "unknown symbol")
}

// suggestSymbol returns the known symbol closest to s, if any is close enough
// to be a plausible typo.
func (s *Service) suggestSymbol(ctx context.Context, symbol string) string {
	symbols, err := s.repo.AssetSymbols(ctx)
	if err != nil {
		s.logger.Warn("Failed to load symbols for suggestion", zap.Error(err))
		return ""
	}
	best, bestDist := "", len(symbol)/2+1
	for _, known := range symbols {
		if d := levenshtein.ComputeDistance(symbol, known); d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}

// openOrder moves a non-market order to open and checks it against the
// current price once before handing it to the watcher.
func (s *Service) openOrder(ctx context.Context, order *models.Order, actor string) (*models.Order, error) {
	before := *order
	ok, err := s.repo.TransitionOrder(ctx, order.ID, []string{models.OrderStatusPending},
		map[string]interface{}{"status": models.OrderStatusOpen})
	if err != nil {
		return nil, errors.Wrap(err)
	}
	if !ok {
		return nil, errors.InvalidState.Explain("order %s is no longer pending", order.ID)
	}
	order.Status = models.OrderStatusOpen
	s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionOrderOpened,
		EntityType: audit.EntityOrder,
		EntityID:   order.ID.String(),
		Before:     &before,
		After:      order,
	})
	s.notify(ctx, messaging.EventOrderOpened, order.UserID, order)

	asset, err := s.repo.GetAsset(ctx, order.AssetID)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	current := order
	if asset.Price.Valid {
		price := asset.Price.Decimal
		action := trigger.Evaluate(current, price)
		if action == trigger.ActionTriggerStop {
			if current, err = s.TriggerStop(ctx, order.ID); err != nil {
				return current, err
			}
			action = trigger.Evaluate(current, price)
		}
		if action == trigger.ActionFill {
			filled, err := s.executeOrder(ctx, order.ID, actor)
			if err != nil || filled.Status != models.OrderStatusOpen {
				return filled, err
			}
			current = filled
		}
	}

	if immediateOnly(current.TimeInForce) {
		return s.cancel(ctx, current.ID, actor, "not immediately executable")
	}
	s.watcher.Watch(current)
	return current, nil
}
