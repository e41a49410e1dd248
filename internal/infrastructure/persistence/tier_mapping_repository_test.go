package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// TierMappingModelSQLite is a SQLite-compatible version of TierMappingModel for
// testing. Prices are stored in a text column so they survive the round trip
// without floating-point drift.
type TierMappingModelSQLite struct {
	ID              string `gorm:"primaryKey"`
	TierID          string `gorm:"not null;uniqueIndex"`
	CatalogItemID   string
	CatalogItemName string
	UnitPrice       string `gorm:"not null"`
	Currency        string `gorm:"not null"`
	PricingPolicy   string `gorm:"not null"`
	Status          string `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (TierMappingModelSQLite) TableName() string {
	return "tier_mappings"
}

func setupTierMappingTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&TierMappingModelSQLite{})
	require.NoError(t, err)

	return db
}

func resolvedTierMapping(t *testing.T, tierID, itemID, price string, policy mapping.PricingPolicy) *mapping.TierMapping {
	t.Helper()
	m, err := mapping.NewTierMapping(tierID)
	require.NoError(t, err)
	unitPrice, err := valueobject.NewMoneyUSDFromString(price)
	require.NoError(t, err)
	require.NoError(t, m.Resolve(itemID, "Item "+itemID, unitPrice, policy))
	return m
}

func TestTierMappingRepository_Upsert(t *testing.T) {
	db := setupTierMappingTestDB(t)
	repo := NewTierMappingRepository(db)
	ctx := context.Background()

	t.Run("inserts a new mapping", func(t *testing.T) {
		m := resolvedTierMapping(t, "api-calls", "item_api", "0.002", mapping.PricingPolicySnapshot)

		err := repo.Upsert(ctx, m)
		require.NoError(t, err)

		found, err := repo.FindByTierID(ctx, "api-calls")
		require.NoError(t, err)
		assert.Equal(t, "item_api", found.CatalogItemID)
		assert.Equal(t, mapping.MappingStatusActive, found.Status)
	})

	t.Run("updates the existing row for the tier", func(t *testing.T) {
		m := resolvedTierMapping(t, "api-calls", "item_api_v2", "0.003", mapping.PricingPolicyLive)

		err := repo.Upsert(ctx, m)
		require.NoError(t, err)

		found, err := repo.FindByTierID(ctx, "api-calls")
		require.NoError(t, err)
		assert.Equal(t, "item_api_v2", found.CatalogItemID)
		assert.Equal(t, mapping.PricingPolicyLive, found.PricingPolicy)

		var count int64
		require.NoError(t, db.Model(&TierMappingModelSQLite{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("persists status transitions", func(t *testing.T) {
		found, err := repo.FindByTierID(ctx, "api-calls")
		require.NoError(t, err)
		require.NoError(t, found.Deactivate())

		require.NoError(t, repo.Upsert(ctx, found))

		reloaded, err := repo.FindByTierID(ctx, "api-calls")
		require.NoError(t, err)
		assert.Equal(t, mapping.MappingStatusInactive, reloaded.Status)
		assert.Equal(t, "item_api_v2", reloaded.CatalogItemID, "deactivation keeps the target")
	})

	t.Run("sub-cent unit prices survive the round trip exactly", func(t *testing.T) {
		m := resolvedTierMapping(t, "premium-seats", "item_seat", "10.005", mapping.PricingPolicySnapshot)

		require.NoError(t, repo.Upsert(ctx, m))

		found, err := repo.FindByTierID(ctx, "premium-seats")
		require.NoError(t, err)
		assert.Equal(t, "10.005", found.UnitPrice.Amount().String())
		assert.Equal(t, valueobject.USD, found.UnitPrice.Currency())
	})
}

func TestTierMappingRepository_FindByTierID(t *testing.T) {
	db := setupTierMappingTestDB(t)
	repo := NewTierMappingRepository(db)
	ctx := context.Background()

	t.Run("returns not found for unknown tier", func(t *testing.T) {
		_, err := repo.FindByTierID(ctx, "no-such-tier")
		assert.Equal(t, shared.ErrNotFound, err)
	})

	t.Run("preserves tier ID case", func(t *testing.T) {
		m := resolvedTierMapping(t, "Storage-GB", "item_storage", "0.10", mapping.PricingPolicySnapshot)
		require.NoError(t, repo.Upsert(ctx, m))

		found, err := repo.FindByTierID(ctx, "Storage-GB")
		require.NoError(t, err)
		assert.Equal(t, "Storage-GB", found.TierID)
	})
}

func TestTierMappingRepository_FindActive(t *testing.T) {
	db := setupTierMappingTestDB(t)
	repo := NewTierMappingRepository(db)
	ctx := context.Background()

	active := resolvedTierMapping(t, "api-calls", "item_api", "0.002", mapping.PricingPolicySnapshot)
	require.NoError(t, repo.Upsert(ctx, active))

	inactive := resolvedTierMapping(t, "legacy-tier", "item_old", "1.00", mapping.PricingPolicySnapshot)
	require.NoError(t, inactive.Deactivate())
	require.NoError(t, repo.Upsert(ctx, inactive))

	unresolved, err := mapping.NewTierMapping("mystery-tier")
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, unresolved))

	t.Run("returns only active mappings", func(t *testing.T) {
		found, err := repo.FindActive(ctx)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "api-calls", found[0].TierID)
	})

	t.Run("find all returns every status ordered by tier", func(t *testing.T) {
		found, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, found, 3)
		assert.Equal(t, "api-calls", found[0].TierID)
		assert.Equal(t, "legacy-tier", found[1].TierID)
		assert.Equal(t, "mystery-tier", found[2].TierID)
	})
}
