package reconcile

import (
	"sort"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

// DetectorInput carries everything change detection reads.
// All of it is in memory; detection touches no store and mutates nothing.
type DetectorInput struct {
	Period valueobject.BillingPeriod

	// HighWater is the period's aggregated usage, already exclusion-filtered
	HighWater []*usage.MonthlyHighWater

	// EntityMappings and TierMappings are the full mapping tables,
	// including inactive and unresolved rows
	EntityMappings []*mapping.EntityMapping
	TierMappings   []*mapping.TierMapping

	// Catalog is the run's snapshot of valid customers and items
	Catalog *CatalogView

	// PreviousBilled lists the distinct entities billed in the immediately
	// preceding period, already exclusion-filtered
	PreviousBilled []string
}

// DetectChanges classifies every observed entity and tier against the
// mapping tables and the catalog snapshot, and reports previously billed
// entities that have gone missing.
//
// Each observed subject lands in exactly one bucket:
// mapped, new, invalid, or reappeared. Missing entities are reported
// separately and are never deactivated automatically; silence for one
// period is a fact for an operator, not a decision the engine takes.
func DetectChanges(in DetectorInput) *ChangeReport {
	report := &ChangeReport{Period: in.Period}

	entityRows := make(map[string]*mapping.EntityMapping, len(in.EntityMappings))
	for _, m := range in.EntityMappings {
		entityRows[m.EntityID] = m
	}
	tierRows := make(map[string]*mapping.TierMapping, len(in.TierMappings))
	for _, m := range in.TierMappings {
		tierRows[m.TierID] = m
	}

	observedEntities := usage.DistinctEntities(in.HighWater)
	for _, entityID := range observedEntities {
		row := entityRows[entityID]
		report.Entities = append(report.Entities, EntityFinding{
			EntityID: entityID,
			Bucket:   classifyEntity(row, in.Catalog),
			Mapping:  row,
		})
	}

	for _, tierID := range usage.DistinctTiers(in.HighWater) {
		row := tierRows[tierID]
		report.Tiers = append(report.Tiers, TierFinding{
			TierID:  tierID,
			Bucket:  classifyTier(row, in.Catalog),
			Mapping: row,
		})
	}

	observed := make(map[string]struct{}, len(observedEntities))
	for _, id := range observedEntities {
		observed[id] = struct{}{}
	}
	for _, entityID := range in.PreviousBilled {
		if _, present := observed[entityID]; present {
			continue
		}
		row, ok := entityRows[entityID]
		if !ok || !row.IsActive() {
			continue
		}
		report.MissingEntities = append(report.MissingEntities, entityID)
	}
	sort.Strings(report.MissingEntities)

	return report
}

func classifyEntity(row *mapping.EntityMapping, catalog *CatalogView) Bucket {
	switch {
	case row == nil:
		return BucketNew
	case row.Status == mapping.MappingStatusInactive:
		return BucketReappeared
	case !row.IsResolved():
		return BucketNew
	case catalog.HasCustomer(row.CustomerID):
		return BucketMapped
	default:
		return BucketInvalid
	}
}

func classifyTier(row *mapping.TierMapping, catalog *CatalogView) Bucket {
	switch {
	case row == nil:
		return BucketNew
	case row.Status == mapping.MappingStatusInactive:
		return BucketReappeared
	case !row.IsResolved():
		return BucketNew
	case catalog.HasItem(row.CatalogItemID):
		return BucketMapped
	default:
		return BucketInvalid
	}
}
