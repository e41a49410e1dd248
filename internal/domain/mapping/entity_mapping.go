package mapping

import (
	"strings"

	"github.com/reckon/engine/internal/domain/shared"
)

// MappingStatus describes the lifecycle state of a mapping row
type MappingStatus string

const (
	// MappingStatusUnresolved marks a mapping whose target has never been set
	MappingStatusUnresolved MappingStatus = "unresolved"

	// MappingStatusActive marks a mapping that participates in invoicing
	MappingStatusActive MappingStatus = "active"

	// MappingStatusInactive marks a soft-deactivated mapping. The target is
	// preserved for audit and possible reactivation; the row never builds
	// new invoice lines.
	MappingStatusInactive MappingStatus = "inactive"
)

// String returns the string representation of MappingStatus
func (s MappingStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known lifecycle state
func (s MappingStatus) IsValid() bool {
	switch s {
	case MappingStatusUnresolved, MappingStatusActive, MappingStatusInactive:
		return true
	}
	return false
}

// EntityMapping binds an observed usage entity to a billing customer.
// Rows are never hard-deleted: a mapping that should stop billing is
// deactivated so its history and target remain queryable.
type EntityMapping struct {
	shared.BaseEntity
	EntityID     string // observed entity, unique across mappings
	CustomerID   string // billing-system customer, empty until resolved
	CustomerName string
	Status       MappingStatus
}

// NewEntityMapping creates an unresolved mapping for a newly observed entity
func NewEntityMapping(entityID string) (*EntityMapping, error) {
	entityID = strings.ToLower(strings.TrimSpace(entityID))
	if entityID == "" {
		return nil, shared.NewDomainError("INVALID_ENTITY_ID", "Entity ID cannot be empty")
	}

	return &EntityMapping{
		BaseEntity: shared.NewBaseEntity(),
		EntityID:   entityID,
		Status:     MappingStatusUnresolved,
	}, nil
}

// Resolve binds the mapping to a customer and activates it
func (m *EntityMapping) Resolve(customerID, customerName string) error {
	if strings.TrimSpace(customerID) == "" {
		return shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	m.CustomerID = customerID
	m.CustomerName = customerName
	m.Status = MappingStatusActive
	return nil
}

// Deactivate soft-deletes the mapping, preserving its target
func (m *EntityMapping) Deactivate() error {
	if m.Status != MappingStatusActive {
		return shared.NewDomainError("INVALID_STATE", "Only active mappings can be deactivated")
	}
	m.Status = MappingStatusInactive
	return nil
}

// Reactivate restores an inactive mapping with its preserved target
func (m *EntityMapping) Reactivate() error {
	if m.Status != MappingStatusInactive {
		return shared.NewDomainError("INVALID_STATE", "Only inactive mappings can be reactivated")
	}
	if m.CustomerID == "" {
		return shared.NewDomainError("INVALID_STATE", "Cannot reactivate a mapping without a customer")
	}
	m.Status = MappingStatusActive
	return nil
}

// IsActive returns true if the mapping participates in invoicing
func (m *EntityMapping) IsActive() bool {
	return m.Status == MappingStatusActive
}

// IsResolved returns true if a target has ever been set
func (m *EntityMapping) IsResolved() bool {
	return m.CustomerID != ""
}
