package usage

import (
	"context"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// UsageRecordRepository defines the interface for persisting and querying
// ingested usage records
type UsageRecordRepository interface {
	// SaveBatch persists records, silently keeping the existing row when a
	// record for the same (entity, tier, observed date) was already ingested.
	// Re-ingesting a snapshot is a no-op.
	SaveBatch(ctx context.Context, records []*UsageRecord) error

	// FindByPeriod retrieves all records observed within a billing period
	FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*UsageRecord, error)

	// CountByPeriod counts records observed within a billing period
	CountByPeriod(ctx context.Context, period valueobject.BillingPeriod) (int64, error)
}

// MonthlyHighWaterRepository defines the interface for persisting derived
// high-water rows
type MonthlyHighWaterRepository interface {
	// ReplaceForPeriod atomically replaces the period's rows with the given
	// set. High-water data is derived; each run recomputes it in full.
	ReplaceForPeriod(ctx context.Context, period valueobject.BillingPeriod, rows []*MonthlyHighWater) error

	// FindByPeriod retrieves the high-water rows for a billing period,
	// ordered by (entity_id, tier_id)
	FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*MonthlyHighWater, error)

	// DistinctEntityIDs returns the distinct entities with high-water rows
	// in a billing period
	DistinctEntityIDs(ctx context.Context, period valueobject.BillingPeriod) ([]string, error)
}
