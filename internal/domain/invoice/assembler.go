package invoice

import (
	"fmt"
	"sort"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

// PriceSource supplies the catalog's current unit price for an item.
// Tiers under the live pricing policy are priced through it at build time;
// snapshot-priced tiers never consult it.
type PriceSource interface {
	CurrentPrice(itemID string) (valueobject.Money, bool)
}

// TargetChecker reports whether mapping targets still exist in the billing
// system. A mapping whose target vanished from the catalog is stale: its
// rows are skipped, not billed, until an operator remaps it.
type TargetChecker interface {
	HasCustomer(id string) bool
	HasItem(id string) bool
}

// SkippedRow is a high-water row that could not be billed, with the reason.
// Skipped rows are reported, never silently dropped and never guessed at.
type SkippedRow struct {
	EntityID string `json:"entity_id"`
	TierID   string `json:"tier_id"`
	Reason   string `json:"reason"`
}

// AssemblerInput carries everything invoice assembly reads
type AssemblerInput struct {
	Period valueobject.BillingPeriod

	// HighWater is the period's aggregated usage, already exclusion-filtered
	HighWater []*usage.MonthlyHighWater

	// EntityMappings and TierMappings are the full mapping tables; the
	// assembler itself checks status and resolution
	EntityMappings []*mapping.EntityMapping
	TierMappings   []*mapping.TierMapping

	// Prices resolves live-policy unit prices, normally the run's catalog
	// snapshot
	Prices PriceSource

	// Targets validates mapping targets against the run's catalog snapshot.
	// Nil skips the check (stored mappings are trusted as-is).
	Targets TargetChecker
}

// AssemblyResult is the outcome of building one period's invoices in memory
type AssemblyResult struct {
	// Invoices holds one pending invoice per billable customer, sorted by
	// customer ID. Nothing is persisted or committed yet.
	Invoices []*Invoice

	// Skipped lists the rows left off every invoice and why
	Skipped []SkippedRow
}

// AssembleInvoices groups the period's high-water rows by billing customer
// and prices each row into an invoice line.
//
// A row contributes a line only when both its entity and tier mappings are
// active and resolved; anything else becomes a skipped fact. Line amounts
// are exact: quantity times unit price in decimal arithmetic, summed into
// the invoice total without ever passing through binary floats.
func AssembleInvoices(in AssemblerInput) (*AssemblyResult, error) {
	entityRows := make(map[string]*mapping.EntityMapping, len(in.EntityMappings))
	for _, m := range in.EntityMappings {
		entityRows[m.EntityID] = m
	}
	tierRows := make(map[string]*mapping.TierMapping, len(in.TierMappings))
	for _, m := range in.TierMappings {
		tierRows[m.TierID] = m
	}

	result := &AssemblyResult{}
	type draft struct {
		customer *mapping.EntityMapping
		lines    []InvoiceLine
	}
	drafts := make(map[string]*draft)

	for _, row := range in.HighWater {
		entityMapping, reason := billableEntity(entityRows[row.EntityID])
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedRow{EntityID: row.EntityID, TierID: row.TierID, Reason: reason})
			continue
		}

		tierMapping, reason := billableTier(tierRows[row.TierID])
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedRow{EntityID: row.EntityID, TierID: row.TierID, Reason: reason})
			continue
		}

		if in.Targets != nil {
			if !in.Targets.HasCustomer(entityMapping.CustomerID) {
				result.Skipped = append(result.Skipped, SkippedRow{
					EntityID: row.EntityID,
					TierID:   row.TierID,
					Reason:   fmt.Sprintf("customer %s no longer in billing catalog", entityMapping.CustomerID),
				})
				continue
			}
			if !in.Targets.HasItem(tierMapping.CatalogItemID) {
				result.Skipped = append(result.Skipped, SkippedRow{
					EntityID: row.EntityID,
					TierID:   row.TierID,
					Reason:   fmt.Sprintf("catalog item %s no longer in billing catalog", tierMapping.CatalogItemID),
				})
				continue
			}
		}

		unitPrice, ok := resolveUnitPrice(tierMapping, in.Prices)
		if !ok {
			result.Skipped = append(result.Skipped, SkippedRow{
				EntityID: row.EntityID,
				TierID:   row.TierID,
				Reason:   fmt.Sprintf("live price unavailable for catalog item %s", tierMapping.CatalogItemID),
			})
			continue
		}

		line := InvoiceLine{
			EntityID:    row.EntityID,
			TierID:      row.TierID,
			Description: fmt.Sprintf("%s - %s", tierMapping.CatalogItemName, row.EntityID),
			Quantity:    row.PeakCount,
			UnitPrice:   unitPrice,
			Amount:      unitPrice.MultiplyByInt(row.PeakCount),
		}

		d, ok := drafts[entityMapping.CustomerID]
		if !ok {
			d = &draft{customer: entityMapping}
			drafts[entityMapping.CustomerID] = d
		}
		d.lines = append(d.lines, line)
	}

	customerIDs := make([]string, 0, len(drafts))
	for id := range drafts {
		customerIDs = append(customerIDs, id)
	}
	sort.Strings(customerIDs)

	for _, customerID := range customerIDs {
		d := drafts[customerID]
		sort.Slice(d.lines, func(i, j int) bool {
			if d.lines[i].EntityID != d.lines[j].EntityID {
				return d.lines[i].EntityID < d.lines[j].EntityID
			}
			return d.lines[i].TierID < d.lines[j].TierID
		})

		inv, err := NewInvoice(customerID, d.customer.CustomerName, in.Period, d.lines)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble invoice for customer %s: %w", customerID, err)
		}
		result.Invoices = append(result.Invoices, inv)
	}

	return result, nil
}

func billableEntity(m *mapping.EntityMapping) (*mapping.EntityMapping, string) {
	switch {
	case m == nil:
		return nil, "entity has no mapping"
	case !m.IsResolved():
		return nil, "entity mapping is unresolved"
	case !m.IsActive():
		return nil, "entity mapping is inactive"
	default:
		return m, ""
	}
}

func billableTier(m *mapping.TierMapping) (*mapping.TierMapping, string) {
	switch {
	case m == nil:
		return nil, "tier has no mapping"
	case !m.IsResolved():
		return nil, "tier mapping is unresolved"
	case !m.IsActive():
		return nil, "tier mapping is inactive"
	default:
		return m, ""
	}
}

func resolveUnitPrice(m *mapping.TierMapping, prices PriceSource) (valueobject.Money, bool) {
	if m.PricingPolicy == mapping.PricingPolicyLive && prices != nil {
		return prices.CurrentPrice(m.CatalogItemID)
	}
	if m.PricingPolicy == mapping.PricingPolicyLive {
		return valueobject.Money{}, false
	}
	return m.UnitPrice, true
}
