package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// EntityMappingModel is the GORM model for entity-to-customer bindings.
// Rows are soft-deactivated via status, never deleted.
type EntityMappingModel struct {
	BaseModel
	EntityID     string `gorm:"type:varchar(253);not null;uniqueIndex"`
	CustomerID   string `gorm:"type:varchar(255)"`
	CustomerName string `gorm:"type:varchar(255)"`
	Status       string `gorm:"type:varchar(20);not null;default:'unresolved';index"`
}

// TableName returns the table name for the model
func (EntityMappingModel) TableName() string {
	return "entity_mappings"
}

// ToDomain converts the model to a domain entity
func (m *EntityMappingModel) ToDomain() *mapping.EntityMapping {
	return &mapping.EntityMapping{
		BaseEntity:   m.BaseModel.ToDomain(),
		EntityID:     m.EntityID,
		CustomerID:   m.CustomerID,
		CustomerName: m.CustomerName,
		Status:       mapping.MappingStatus(m.Status),
	}
}

// EntityMappingModelFromDomain creates a model from a domain entity
func EntityMappingModelFromDomain(e *mapping.EntityMapping) *EntityMappingModel {
	m := &EntityMappingModel{
		EntityID:     e.EntityID,
		CustomerID:   e.CustomerID,
		CustomerName: e.CustomerName,
		Status:       e.Status.String(),
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// TierMappingModel is the GORM model for tier-to-catalog-item bindings.
// The unit price column holds the snapshot captured at resolution time.
type TierMappingModel struct {
	BaseModel
	TierID          string          `gorm:"type:varchar(128);not null;uniqueIndex"`
	CatalogItemID   string          `gorm:"type:varchar(255)"`
	CatalogItemName string          `gorm:"type:varchar(255)"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'USD'"`
	PricingPolicy   string          `gorm:"type:varchar(20);not null;default:'snapshot'"`
	Status          string          `gorm:"type:varchar(20);not null;default:'unresolved';index"`
}

// TableName returns the table name for the model
func (TierMappingModel) TableName() string {
	return "tier_mappings"
}

// ToDomain converts the model to a domain entity
func (m *TierMappingModel) ToDomain() (*mapping.TierMapping, error) {
	price, err := valueobject.NewMoney(m.UnitPrice, valueobject.Currency(m.Currency))
	if err != nil {
		return nil, err
	}
	return &mapping.TierMapping{
		BaseEntity:      m.BaseModel.ToDomain(),
		TierID:          m.TierID,
		CatalogItemID:   m.CatalogItemID,
		CatalogItemName: m.CatalogItemName,
		UnitPrice:       price,
		PricingPolicy:   mapping.PricingPolicy(m.PricingPolicy),
		Status:          mapping.MappingStatus(m.Status),
	}, nil
}

// TierMappingModelFromDomain creates a model from a domain entity
func TierMappingModelFromDomain(e *mapping.TierMapping) *TierMappingModel {
	m := &TierMappingModel{
		TierID:          e.TierID,
		CatalogItemID:   e.CatalogItemID,
		CatalogItemName: e.CatalogItemName,
		UnitPrice:       e.UnitPrice.Amount(),
		Currency:        string(e.UnitPrice.Currency()),
		PricingPolicy:   e.PricingPolicy.String(),
		Status:          e.Status.String(),
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// ChangeLogEntryModel is the GORM model for the append-only mapping audit
// log. There are no update paths to this table anywhere in the codebase.
type ChangeLogEntryModel struct {
	BaseModel
	SubjectID   string    `gorm:"type:varchar(253);not null;index"`
	SubjectKind string    `gorm:"type:varchar(10);not null"`
	ChangeKind  string    `gorm:"type:varchar(20);not null"`
	DecidedBy   string    `gorm:"type:varchar(10);not null"`
	Detail      string    `gorm:"type:text"`
	DecidedAt   time.Time `gorm:"not null;index"`
}

// TableName returns the table name for the model
func (ChangeLogEntryModel) TableName() string {
	return "change_log_entries"
}

// ToDomain converts the model to a domain entity
func (m *ChangeLogEntryModel) ToDomain() *mapping.ChangeLogEntry {
	return &mapping.ChangeLogEntry{
		BaseEntity:  m.BaseModel.ToDomain(),
		SubjectID:   m.SubjectID,
		SubjectKind: mapping.SubjectKind(m.SubjectKind),
		ChangeKind:  mapping.ChangeKind(m.ChangeKind),
		DecidedBy:   mapping.DecidedBy(m.DecidedBy),
		Detail:      m.Detail,
		DecidedAt:   m.DecidedAt.UTC(),
	}
}

// ChangeLogEntryModelFromDomain creates a model from a domain entity
func ChangeLogEntryModelFromDomain(e *mapping.ChangeLogEntry) *ChangeLogEntryModel {
	m := &ChangeLogEntryModel{
		SubjectID:   e.SubjectID,
		SubjectKind: e.SubjectKind.String(),
		ChangeKind:  e.ChangeKind.String(),
		DecidedBy:   e.DecidedBy.String(),
		Detail:      e.Detail,
		DecidedAt:   e.DecidedAt,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}
