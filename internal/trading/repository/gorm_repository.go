package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tradecore/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = gorm.ErrRecordNotFound

// OrderFilter narrows ListOrders
type OrderFilter struct {
	UserID uuid.UUID
	Status string
	Symbol string
	Limit  int
	Offset int
}

// Repository wraps GORM access to orders, trades, positions, users and assets.
// A Repository obtained from WithTx runs every call inside that transaction.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a new GORM-based repository
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithTx returns a repository bound to tx
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx, logger: r.logger}
}

// ExecuteInTransaction executes a function within a database transaction
func (r *Repository) ExecuteInTransaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// LockUser reads the user row with SELECT ... FOR UPDATE. Must be called on
// a transaction-bound repository.
func (r *Repository) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return &user, nil
}

// UpdateUserBalance sets the user's balance
func (r *Repository) UpdateUserBalance(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("balance", user.Balance)
	if result.Error != nil {
		return fmt.Errorf("failed to update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a user
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetAsset retrieves an asset by id
func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// GetAssetBySymbol retrieves an asset by its unique symbol
func (r *Repository) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// AssetSymbols returns every known symbol
func (r *Repository) AssetSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := r.db.WithContext(ctx).Model(&models.Asset{}).Order("symbol").Pluck("symbol", &symbols).Error; err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return symbols, nil
}

// EnsureAsset creates the asset if its symbol is unknown
func (r *Repository) EnsureAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).Create(asset).Error
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// CreateOrder creates a new order in the database
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.logger.Error("Failed to create order", zap.Error(err), zap.String("order_id", order.ID.String()))
		return fmt.Errorf("failed to create order: %w", err)
	}
	r.logger.Debug("Order created successfully", zap.String("order_id", order.ID.String()))
	return nil
}

// GetOrder retrieves an order by its ID
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// SaveOrder writes every column of order
func (r *Repository) SaveOrder(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		r.logger.Error("Failed to update order", zap.Error(err), zap.String("order_id", order.ID.String()))
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

// TransitionOrder applies updates only if the order is still in one of the
// from statuses. It reports whether the row was changed.
func (r *Repository) TransitionOrder(ctx context.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update order: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListOrders returns orders matching filter, newest first
func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var orders []models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListOrdersByStatus returns every order in one of statuses, oldest first
func (r *Repository) ListOrdersByStatus(ctx context.Context, statuses ...string) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).Where("status IN ?", statuses).
		Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// CreateTrade inserts a trade
func (r *Repository) CreateTrade(ctx context.Context, trade *models.Trade) error {
	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// ListTrades returns the user's trades, newest first
func (r *Repository) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Trade, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var trades []models.Trade
	if err := q.Order("created_at DESC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// TradesByOrder returns the trades of one order
func (r *Repository) TradesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Trade, error) {
	var trades []models.Trade
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// GetPosition returns the user's position in an asset, or ErrNotFound
func (r *Repository) GetPosition(ctx context.Context, userID, assetID uuid.UUID) (*models.Position, error) {
	var pos models.Position
	err := r.db.WithContext(ctx).Where("user_id = ? AND asset_id = ?", userID, assetID).First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &pos, nil
}

// CreatePosition inserts a new position
func (r *Repository) CreatePosition(ctx context.Context, pos *models.Position) error {
	if err := r.db.WithContext(ctx).Create(pos).Error; err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// SavePosition updates an existing position
func (r *Repository) SavePosition(ctx context.Context, pos *models.Position) error {
	if err := r.db.WithContext(ctx).Save(pos).Error; err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// DeletePosition removes a position row
func (r *Repository) DeletePosition(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Position{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ListPositions returns the user's open positions ordered by symbol
func (r *Repository) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	var positions []models.Position
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}
