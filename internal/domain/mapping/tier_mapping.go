package mapping

import (
	"strings"

	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// PricingPolicy controls which unit price an invoice line uses for a tier
type PricingPolicy string

const (
	// PricingPolicySnapshot bills at the unit price captured when the tier
	// was resolved. Catalog price changes do not affect the tier until an
	// operator re-resolves it.
	PricingPolicySnapshot PricingPolicy = "snapshot"

	// PricingPolicyLive bills at the catalog's current unit price, looked
	// up at invoice build time.
	PricingPolicyLive PricingPolicy = "live"
)

// String returns the string representation of PricingPolicy
func (p PricingPolicy) String() string {
	return string(p)
}

// IsValid returns true if the policy is a known pricing policy
func (p PricingPolicy) IsValid() bool {
	switch p {
	case PricingPolicySnapshot, PricingPolicyLive:
		return true
	}
	return false
}

// TierMapping binds an observed service tier to a billing catalog item.
// The unit price captured at resolution time is stored on the row; the
// pricing policy decides whether that snapshot or the live catalog price
// is billed. Rows are never hard-deleted.
type TierMapping struct {
	shared.BaseEntity
	TierID          string // observed tier, unique across mappings
	CatalogItemID   string // billing-system catalog item, empty until resolved
	CatalogItemName string
	UnitPrice       valueobject.Money // price snapshot taken at resolution
	PricingPolicy   PricingPolicy
	Status          MappingStatus
}

// NewTierMapping creates an unresolved mapping for a newly observed tier
func NewTierMapping(tierID string) (*TierMapping, error) {
	tierID = strings.TrimSpace(tierID)
	if tierID == "" {
		return nil, shared.NewDomainError("INVALID_TIER_ID", "Tier ID cannot be empty")
	}

	return &TierMapping{
		BaseEntity:    shared.NewBaseEntity(),
		TierID:        tierID,
		UnitPrice:     valueobject.ZeroUSD(),
		PricingPolicy: PricingPolicySnapshot,
		Status:        MappingStatusUnresolved,
	}, nil
}

// Resolve binds the mapping to a catalog item, records the price snapshot
// and the pricing policy decided for this tier, and activates it
func (m *TierMapping) Resolve(itemID, itemName string, unitPrice valueobject.Money, policy PricingPolicy) error {
	if strings.TrimSpace(itemID) == "" {
		return shared.NewDomainError("INVALID_CATALOG_ITEM", "Catalog item ID cannot be empty")
	}
	if !policy.IsValid() {
		return shared.NewDomainError("INVALID_PRICING_POLICY", "Unknown pricing policy: "+policy.String())
	}
	if unitPrice.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Unit price cannot be negative")
	}
	m.CatalogItemID = itemID
	m.CatalogItemName = itemName
	m.UnitPrice = unitPrice
	m.PricingPolicy = policy
	m.Status = MappingStatusActive
	return nil
}

// Deactivate soft-deletes the mapping, preserving its target and price
func (m *TierMapping) Deactivate() error {
	if m.Status != MappingStatusActive {
		return shared.NewDomainError("INVALID_STATE", "Only active mappings can be deactivated")
	}
	m.Status = MappingStatusInactive
	return nil
}

// Reactivate restores an inactive mapping with its preserved target
func (m *TierMapping) Reactivate() error {
	if m.Status != MappingStatusInactive {
		return shared.NewDomainError("INVALID_STATE", "Only inactive mappings can be reactivated")
	}
	if m.CatalogItemID == "" {
		return shared.NewDomainError("INVALID_STATE", "Cannot reactivate a mapping without a catalog item")
	}
	m.Status = MappingStatusActive
	return nil
}

// IsActive returns true if the mapping participates in invoicing
func (m *TierMapping) IsActive() bool {
	return m.Status == MappingStatusActive
}

// IsResolved returns true if a target has ever been set
func (m *TierMapping) IsResolved() bool {
	return m.CatalogItemID != ""
}
