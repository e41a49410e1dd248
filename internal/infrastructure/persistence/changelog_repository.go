package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/infrastructure/persistence/models"
)

// ChangeLogRepository implements the mapping.ChangeLogRepository interface.
// The table is append-only; this type exposes no update or delete path.
type ChangeLogRepository struct {
	db *gorm.DB
}

// NewChangeLogRepository creates a new change log repository
func NewChangeLogRepository(db *gorm.DB) *ChangeLogRepository {
	return &ChangeLogRepository{db: db}
}

// Append persists one audit entry
func (r *ChangeLogRepository) Append(ctx context.Context, entry *mapping.ChangeLogEntry) error {
	model := models.ChangeLogEntryModelFromDomain(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindBySubject retrieves entries about one subject, newest first
func (r *ChangeLogRepository) FindBySubject(ctx context.Context, subjectID string) ([]*mapping.ChangeLogEntry, error) {
	var rows []models.ChangeLogEntryModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("decided_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return changeLogEntriesToDomain(rows), nil
}

// FindRecent retrieves the most recent entries across all subjects, newest first
func (r *ChangeLogRepository) FindRecent(ctx context.Context, limit int) ([]*mapping.ChangeLogEntry, error) {
	query := r.db.WithContext(ctx).Order("decided_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.ChangeLogEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return changeLogEntriesToDomain(rows), nil
}

func changeLogEntriesToDomain(rows []models.ChangeLogEntryModel) []*mapping.ChangeLogEntry {
	entries := make([]*mapping.ChangeLogEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.ToDomain()
	}
	return entries
}

// Ensure ChangeLogRepository implements the interface
var _ mapping.ChangeLogRepository = (*ChangeLogRepository)(nil)
