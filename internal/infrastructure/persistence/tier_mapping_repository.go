package persistence

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/infrastructure/persistence/models"
)

// TierMappingRepository implements the mapping.TierMappingRepository interface
type TierMappingRepository struct {
	db *gorm.DB
}

// NewTierMappingRepository creates a new tier mapping repository
func NewTierMappingRepository(db *gorm.DB) *TierMappingRepository {
	return &TierMappingRepository{db: db}
}

// FindByTierID retrieves the mapping for a tier
func (r *TierMappingRepository) FindByTierID(ctx context.Context, tierID string) (*mapping.TierMapping, error) {
	var model models.TierMappingModel
	err := r.db.WithContext(ctx).
		First(&model, "tier_id = ?", strings.TrimSpace(tierID)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindAll retrieves every mapping regardless of status
func (r *TierMappingRepository) FindAll(ctx context.Context) ([]*mapping.TierMapping, error) {
	var rows []models.TierMappingModel
	err := r.db.WithContext(ctx).
		Order("tier_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return tierMappingsToDomain(rows)
}

// FindActive retrieves mappings that participate in invoicing
func (r *TierMappingRepository) FindActive(ctx context.Context) ([]*mapping.TierMapping, error) {
	var rows []models.TierMappingModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(mapping.MappingStatusActive)).
		Order("tier_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return tierMappingsToDomain(rows)
}

// Upsert inserts the mapping or updates the existing row for its tier ID
func (r *TierMappingRepository) Upsert(ctx context.Context, m *mapping.TierMapping) error {
	model := models.TierMappingModelFromDomain(m)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tier_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"catalog_item_id",
			"catalog_item_name",
			"unit_price",
			"currency",
			"pricing_policy",
			"status",
			"updated_at",
		}),
	}).Create(model).Error
}

func tierMappingsToDomain(rows []models.TierMappingModel) ([]*mapping.TierMapping, error) {
	mappings := make([]*mapping.TierMapping, len(rows))
	for i, row := range rows {
		m, err := row.ToDomain()
		if err != nil {
			return nil, err
		}
		mappings[i] = m
	}
	return mappings, nil
}

// Ensure TierMappingRepository implements the interface
var _ mapping.TierMappingRepository = (*TierMappingRepository)(nil)
