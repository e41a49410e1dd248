package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/persistence/models"
)

// MonthlyHighWaterRepository implements the usage.MonthlyHighWaterRepository interface
type MonthlyHighWaterRepository struct {
	db *gorm.DB
}

// NewMonthlyHighWaterRepository creates a new monthly high-water repository
func NewMonthlyHighWaterRepository(db *gorm.DB) *MonthlyHighWaterRepository {
	return &MonthlyHighWaterRepository{db: db}
}

// ReplaceForPeriod atomically replaces the period's rows with the given set.
// The delete and insert run in one transaction so readers never observe a
// partially rebuilt period.
func (r *MonthlyHighWaterRepository) ReplaceForPeriod(ctx context.Context, period valueobject.BillingPeriod, rows []*usage.MonthlyHighWater) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("billing_year = ? AND billing_month = ?", period.Year(), period.Month()).
			Delete(&models.MonthlyHighWaterModel{}).Error
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		batch := make([]*models.MonthlyHighWaterModel, len(rows))
		for i, row := range rows {
			batch[i] = models.MonthlyHighWaterModelFromDomain(row)
		}
		return tx.CreateInBatches(batch, 100).Error
	})
}

// FindByPeriod retrieves the high-water rows for a billing period,
// ordered by (entity_id, tier_id)
func (r *MonthlyHighWaterRepository) FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*usage.MonthlyHighWater, error) {
	var rows []models.MonthlyHighWaterModel
	err := r.db.WithContext(ctx).
		Where("billing_year = ? AND billing_month = ?", period.Year(), period.Month()).
		Order("entity_id ASC, tier_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	marks := make([]*usage.MonthlyHighWater, len(rows))
	for i, row := range rows {
		marks[i] = row.ToDomain()
	}
	return marks, nil
}

// DistinctEntityIDs returns the distinct entities with high-water rows in a
// billing period
func (r *MonthlyHighWaterRepository) DistinctEntityIDs(ctx context.Context, period valueobject.BillingPeriod) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.MonthlyHighWaterModel{}).
		Where("billing_year = ? AND billing_month = ?", period.Year(), period.Month()).
		Distinct("entity_id").
		Order("entity_id ASC").
		Pluck("entity_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Ensure MonthlyHighWaterRepository implements the interface
var _ usage.MonthlyHighWaterRepository = (*MonthlyHighWaterRepository)(nil)
