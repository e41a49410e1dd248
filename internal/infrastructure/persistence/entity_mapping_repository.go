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

// EntityMappingRepository implements the mapping.EntityMappingRepository interface
type EntityMappingRepository struct {
	db *gorm.DB
}

// NewEntityMappingRepository creates a new entity mapping repository
func NewEntityMappingRepository(db *gorm.DB) *EntityMappingRepository {
	return &EntityMappingRepository{db: db}
}

// FindByEntityID retrieves the mapping for an entity
func (r *EntityMappingRepository) FindByEntityID(ctx context.Context, entityID string) (*mapping.EntityMapping, error) {
	var model models.EntityMappingModel
	err := r.db.WithContext(ctx).
		First(&model, "entity_id = ?", strings.ToLower(strings.TrimSpace(entityID))).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll retrieves every mapping regardless of status
func (r *EntityMappingRepository) FindAll(ctx context.Context) ([]*mapping.EntityMapping, error) {
	var rows []models.EntityMappingModel
	err := r.db.WithContext(ctx).
		Order("entity_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return entityMappingsToDomain(rows), nil
}

// FindActive retrieves mappings that participate in invoicing
func (r *EntityMappingRepository) FindActive(ctx context.Context) ([]*mapping.EntityMapping, error) {
	var rows []models.EntityMappingModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(mapping.MappingStatusActive)).
		Order("entity_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return entityMappingsToDomain(rows), nil
}

// Upsert inserts the mapping or updates the existing row for its entity ID
func (r *EntityMappingRepository) Upsert(ctx context.Context, m *mapping.EntityMapping) error {
	model := models.EntityMappingModelFromDomain(m)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"customer_name",
			"status",
			"updated_at",
		}),
	}).Create(model).Error
}

func entityMappingsToDomain(rows []models.EntityMappingModel) []*mapping.EntityMapping {
	mappings := make([]*mapping.EntityMapping, len(rows))
	for i, row := range rows {
		mappings[i] = row.ToDomain()
	}
	return mappings
}

// Ensure EntityMappingRepository implements the interface
var _ mapping.EntityMappingRepository = (*EntityMappingRepository)(nil)
