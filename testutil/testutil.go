// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradecore/internal/config"
	"github.com/Aidin1998/tradecore/internal/database"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// NewTestDB returns a migrated in-memory SQLite database private to the test.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateUser inserts a user holding balance.
func CreateUser(t testing.TB, db *gorm.DB, balance string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		Currency: "USD",
		Balance:  decimal.RequireFromString(balance),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateAsset inserts an asset. An empty price leaves it unpriced.
func CreateAsset(t testing.TB, db *gorm.DB, symbol, price string) *models.Asset {
	t.Helper()
	asset := &models.Asset{ID: uuid.New(), Symbol: symbol, Name: symbol}
	if price != "" {
		now := time.Now().UTC()
		asset.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
		asset.PriceUpdatedAt = &now
	}
	require.NoError(t, db.Create(asset).Error)
	return asset
}

// SetPrice overwrites the cached price of an asset.
func SetPrice(t testing.TB, db *gorm.DB, assetID uuid.UUID, price string) {
	t.Helper()
	require.NoError(t, db.Model(&models.Asset{}).Where("id = ?", assetID).
		Update("price", decimal.NewNullDecimal(decimal.RequireFromString(price))).Error)
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t testing.TB, cond func() bool, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
