package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/persistence/models"
)

// UsageRecordRepository implements the usage.UsageRecordRepository interface
type UsageRecordRepository struct {
	db *gorm.DB
}

// NewUsageRecordRepository creates a new usage record repository
func NewUsageRecordRepository(db *gorm.DB) *UsageRecordRepository {
	return &UsageRecordRepository{db: db}
}

// SaveBatch persists records, keeping the existing row when a record for the
// same (entity, tier, observed date) already exists. Re-ingesting a snapshot
// therefore leaves the table unchanged.
func (r *UsageRecordRepository) SaveBatch(ctx context.Context, records []*usage.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]*models.UsageRecordModel, len(records))
	for i, record := range records {
		rows[i] = models.UsageRecordModelFromDomain(record)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "entity_id"},
				{Name: "tier_id"},
				{Name: "observed_at"},
			},
			DoNothing: true,
		}).
		CreateInBatches(rows, 100).Error
}

// FindByPeriod retrieves all records observed within a billing period
func (r *UsageRecordRepository) FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*usage.UsageRecord, error) {
	start, end := models.PeriodBounds(period)

	var rows []models.UsageRecordModel
	err := r.db.WithContext(ctx).
		Where("observed_at >= ? AND observed_at < ?", start, end).
		Order("entity_id ASC, tier_id ASC, observed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]*usage.UsageRecord, len(rows))
	for i, row := range rows {
		records[i] = row.ToDomain()
	}
	return records, nil
}

// CountByPeriod counts records observed within a billing period
func (r *UsageRecordRepository) CountByPeriod(ctx context.Context, period valueobject.BillingPeriod) (int64, error) {
	start, end := models.PeriodBounds(period)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Where("observed_at >= ? AND observed_at < ?", start, end).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure UsageRecordRepository implements the interface
var _ usage.UsageRecordRepository = (*UsageRecordRepository)(nil)
