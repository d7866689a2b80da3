package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tradecore/pkg/models"
)

// Store persists cached prices and tick history
type Store struct {
	db *gorm.DB
}

// NewStore creates a new store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertPrice writes the tick's prices onto the asset row, creating the
// asset if the symbol is new, and returns the asset id.
func (s *Store) UpsertPrice(ctx context.Context, t Tick) (uuid.UUID, error) {
	ts := t.Timestamp
	asset := &models.Asset{
		ID:             uuid.New(),
		Symbol:         t.Symbol,
		Name:           t.Symbol,
		Price:          decimal.NewNullDecimal(t.Last),
		Bid:            decimal.NewNullDecimal(t.Bid),
		Ask:            decimal.NewNullDecimal(t.Ask),
		PriceUpdatedAt: &ts,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "bid", "ask", "price_updated_at", "updated_at"}),
	}).Create(asset).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert asset price: %w", err)
	}

	var stored models.Asset
	if err := s.db.WithContext(ctx).Select("id").
		Where("symbol = ?", t.Symbol).Take(&stored).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to load asset id: %w", err)
	}
	return stored.ID, nil
}

// InsertHistory appends one MarketData row.
func (s *Store) InsertHistory(ctx context.Context, row *models.MarketData) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert market data: %w", err)
	}
	return nil
}

// Assets returns every asset with its cached price, ordered by symbol.
func (s *Store) Assets(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// History returns up to limit rows for symbol, newest first. A non-zero
// since bounds the result to rows at or after it.
func (s *Store) History(ctx context.Context, symbol string, since time.Time, limit int) ([]models.MarketData, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol)
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var rows []models.MarketData
	if err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load market data history: %w", err)
	}
	return rows, nil
}
