package mapping

import "context"

// EntityMappingRepository defines the interface for persisting entity
// mappings. There is deliberately no Delete: mappings are deactivated,
// never removed.
type EntityMappingRepository interface {
	// FindByEntityID retrieves the mapping for an entity.
	// Returns shared.ErrNotFound when no mapping exists.
	FindByEntityID(ctx context.Context, entityID string) (*EntityMapping, error)

	// FindAll retrieves every mapping regardless of status
	FindAll(ctx context.Context) ([]*EntityMapping, error)

	// FindActive retrieves mappings that participate in invoicing
	FindActive(ctx context.Context) ([]*EntityMapping, error)

	// Upsert inserts the mapping or updates the existing row for its
	// entity ID
	Upsert(ctx context.Context, m *EntityMapping) error
}

// TierMappingRepository defines the interface for persisting tier mappings.
// No hard delete; tiers that stop billing are deactivated.
type TierMappingRepository interface {
	// FindByTierID retrieves the mapping for a tier.
	// Returns shared.ErrNotFound when no mapping exists.
	FindByTierID(ctx context.Context, tierID string) (*TierMapping, error)

	// FindAll retrieves every mapping regardless of status
	FindAll(ctx context.Context) ([]*TierMapping, error)

	// FindActive retrieves mappings that participate in invoicing
	FindActive(ctx context.Context) ([]*TierMapping, error)

	// Upsert inserts the mapping or updates the existing row for its tier ID
	Upsert(ctx context.Context, m *TierMapping) error
}

// ChangeLogRepository defines the interface for the append-only mapping
// audit log. Entries cannot be updated or deleted.
type ChangeLogRepository interface {
	// Append persists one audit entry
	Append(ctx context.Context, entry *ChangeLogEntry) error

	// FindBySubject retrieves entries about one subject, newest first
	FindBySubject(ctx context.Context, subjectID string) ([]*ChangeLogEntry, error)

	// FindRecent retrieves the most recent entries across all subjects,
	// newest first
	FindRecent(ctx context.Context, limit int) ([]*ChangeLogEntry, error)
}
