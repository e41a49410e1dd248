package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

func testPeriod(t *testing.T) valueobject.BillingPeriod {
	t.Helper()
	p, err := valueobject.NewBillingPeriod(2025, 7)
	require.NoError(t, err)
	return p
}

func testCatalog(t *testing.T) *CatalogView {
	t.Helper()
	price, err := valueobject.NewMoneyUSDFromString("10.00")
	require.NoError(t, err)
	return NewCatalogView(
		[]Customer{
			{ID: "cus_acme", Name: "Acme Corp"},
			{ID: "cus_globex", Name: "Globex"},
		},
		[]CatalogItem{
			{ID: "item_std", Name: "Standard Plan", UnitPrice: price},
		},
	)
}

func highWaterFor(pairs ...[2]string) []*usage.MonthlyHighWater {
	rows := make([]*usage.MonthlyHighWater, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, &usage.MonthlyHighWater{EntityID: p[0], TierID: p[1]})
	}
	return rows
}

func activeEntity(t *testing.T, entityID, customerID string) *mapping.EntityMapping {
	t.Helper()
	m, err := mapping.NewEntityMapping(entityID)
	require.NoError(t, err)
	require.NoError(t, m.Resolve(customerID, customerID))
	return m
}

func activeTier(t *testing.T, tierID, itemID string) *mapping.TierMapping {
	t.Helper()
	m, err := mapping.NewTierMapping(tierID)
	require.NoError(t, err)
	price, err := valueobject.NewMoneyUSDFromString("10.00")
	require.NoError(t, err)
	require.NoError(t, m.Resolve(itemID, itemID, price, mapping.PricingPolicySnapshot))
	return m
}

func TestDetectChanges_EntityBuckets(t *testing.T) {
	period := testPeriod(t)
	catalog := testCatalog(t)

	t.Run("active mapping with valid target is mapped", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{activeEntity(t, "acme.example.com", "cus_acme")},
			TierMappings:   []*mapping.TierMapping{activeTier(t, "standard", "item_std")},
			Catalog:        catalog,
		})

		require.Len(t, report.Entities, 1)
		assert.Equal(t, BucketMapped, report.Entities[0].Bucket)
		require.NotNil(t, report.Entities[0].Mapping)
	})

	t.Run("entity without a mapping row is new", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:    period,
			HighWater: highWaterFor([2]string{"newcomer.example.com", "standard"}),
			Catalog:   catalog,
		})

		require.Len(t, report.Entities, 1)
		assert.Equal(t, BucketNew, report.Entities[0].Bucket)
		assert.Nil(t, report.Entities[0].Mapping)
	})

	t.Run("unresolved mapping row is still new", func(t *testing.T) {
		unresolved, err := mapping.NewEntityMapping("seen.example.com")
		require.NoError(t, err)

		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"seen.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{unresolved},
			Catalog:        catalog,
		})

		require.Len(t, report.Entities, 1)
		assert.Equal(t, BucketNew, report.Entities[0].Bucket)
		assert.NotNil(t, report.Entities[0].Mapping)
	})

	t.Run("mapping whose customer left the catalog is invalid", func(t *testing.T) {
		stale := activeEntity(t, "acme.example.com", "cus_gone")

		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{stale},
			Catalog:        catalog,
		})

		require.Len(t, report.Entities, 1)
		assert.Equal(t, BucketInvalid, report.Entities[0].Bucket)
	})

	t.Run("inactive mapping with fresh usage is reappeared", func(t *testing.T) {
		dormant := activeEntity(t, "acme.example.com", "cus_acme")
		require.NoError(t, dormant.Deactivate())

		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{dormant},
			Catalog:        catalog,
		})

		require.Len(t, report.Entities, 1)
		assert.Equal(t, BucketReappeared, report.Entities[0].Bucket)
	})

	t.Run("each observed entity lands in exactly one bucket", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period: period,
			HighWater: highWaterFor(
				[2]string{"acme.example.com", "standard"},
				[2]string{"acme.example.com", "premium"},
				[2]string{"newcomer.example.com", "standard"},
			),
			EntityMappings: []*mapping.EntityMapping{activeEntity(t, "acme.example.com", "cus_acme")},
			Catalog:        catalog,
		})

		assert.Len(t, report.Entities, 2)
		assert.Equal(t, 1, report.CountEntities(BucketMapped))
		assert.Equal(t, 1, report.CountEntities(BucketNew))
	})
}

func TestDetectChanges_TierBuckets(t *testing.T) {
	period := testPeriod(t)
	catalog := testCatalog(t)

	t.Run("classifies tiers against catalog items", func(t *testing.T) {
		stale := activeTier(t, "legacy", "item_gone")

		report := DetectChanges(DetectorInput{
			Period: period,
			HighWater: highWaterFor(
				[2]string{"acme.example.com", "standard"},
				[2]string{"acme.example.com", "legacy"},
				[2]string{"acme.example.com", "brand-new"},
			),
			TierMappings: []*mapping.TierMapping{activeTier(t, "standard", "item_std"), stale},
			Catalog:      catalog,
		})

		require.Len(t, report.Tiers, 3)
		byID := map[string]Bucket{}
		for _, f := range report.Tiers {
			byID[f.TierID] = f.Bucket
		}
		assert.Equal(t, BucketNew, byID["brand-new"])
		assert.Equal(t, BucketInvalid, byID["legacy"])
		assert.Equal(t, BucketMapped, byID["standard"])
	})
}

func TestDetectChanges_MissingEntities(t *testing.T) {
	period := testPeriod(t)
	catalog := testCatalog(t)

	t.Run("reports previously billed entities with no current usage", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{
				activeEntity(t, "acme.example.com", "cus_acme"),
				activeEntity(t, "globex.io", "cus_globex"),
			},
			Catalog:        catalog,
			PreviousBilled: []string{"acme.example.com", "globex.io"},
		})

		assert.Equal(t, []string{"globex.io"}, report.MissingEntities)
	})

	t.Run("entities observed this period are not missing", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{activeEntity(t, "acme.example.com", "cus_acme")},
			Catalog:        catalog,
			PreviousBilled: []string{"acme.example.com"},
		})

		assert.Empty(t, report.MissingEntities)
	})

	t.Run("inactive mappings are not reported missing", func(t *testing.T) {
		dormant := activeEntity(t, "globex.io", "cus_globex")
		require.NoError(t, dormant.Deactivate())

		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      nil,
			EntityMappings: []*mapping.EntityMapping{dormant},
			Catalog:        catalog,
			PreviousBilled: []string{"globex.io"},
		})

		assert.Empty(t, report.MissingEntities)
	})

	t.Run("unmapped previously billed entities are not reported", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:         period,
			Catalog:        catalog,
			PreviousBilled: []string{"ghost.example.com"},
		})

		assert.Empty(t, report.MissingEntities)
	})
}

func TestDetectChanges_ReportShape(t *testing.T) {
	period := testPeriod(t)
	catalog := testCatalog(t)

	t.Run("findings are sorted by subject ID", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period: period,
			HighWater: highWaterFor(
				[2]string{"zeta.example.com", "z-tier"},
				[2]string{"alpha.example.com", "a-tier"},
			),
			Catalog: catalog,
		})

		require.Len(t, report.Entities, 2)
		assert.Equal(t, "alpha.example.com", report.Entities[0].EntityID)
		assert.Equal(t, "zeta.example.com", report.Entities[1].EntityID)
		require.Len(t, report.Tiers, 2)
		assert.Equal(t, "a-tier", report.Tiers[0].TierID)
	})

	t.Run("empty input yields a quiet report", func(t *testing.T) {
		report := DetectChanges(DetectorInput{Period: period, Catalog: catalog})

		assert.Empty(t, report.Entities)
		assert.Empty(t, report.Tiers)
		assert.Empty(t, report.MissingEntities)
		assert.False(t, report.NeedsAttention())
	})

	t.Run("needs attention when anything is unresolved or missing", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:    period,
			HighWater: highWaterFor([2]string{"newcomer.example.com", "standard"}),
			Catalog:   catalog,
		})

		assert.True(t, report.NeedsAttention())
	})

	t.Run("fully mapped report does not need attention", func(t *testing.T) {
		report := DetectChanges(DetectorInput{
			Period:         period,
			HighWater:      highWaterFor([2]string{"acme.example.com", "standard"}),
			EntityMappings: []*mapping.EntityMapping{activeEntity(t, "acme.example.com", "cus_acme")},
			TierMappings:   []*mapping.TierMapping{activeTier(t, "standard", "item_std")},
			Catalog:        catalog,
		})

		assert.False(t, report.NeedsAttention())
		assert.Len(t, report.EntitiesIn(BucketMapped), 1)
		assert.Len(t, report.TiersIn(BucketMapped), 1)
	})
}
