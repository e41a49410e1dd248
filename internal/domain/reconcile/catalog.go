package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// Customer is a billing-system customer as seen in the catalog snapshot
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CatalogItem is a billable item as seen in the catalog snapshot,
// carrying its current unit price
type CatalogItem struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	UnitPrice valueobject.Money `json:"unit_price"`
}

// Catalog fetches the billing system's customers and items
type Catalog interface {
	// FetchCatalog retrieves a point-in-time view of valid customers and
	// billable items. Called once per run; every decision in the run works
	// against the same snapshot.
	FetchCatalog(ctx context.Context) (*CatalogView, error)
}

// CatalogView is an immutable point-in-time snapshot of the billing
// catalog. Change detection, operator prompts, and live-priced invoice
// lines all consult the same view so a mid-run catalog edit cannot split
// the run's notion of what is valid.
type CatalogView struct {
	customers map[string]Customer
	items     map[string]CatalogItem
	ordered   struct {
		customers []Customer
		items     []CatalogItem
	}
}

// NewCatalogView builds a catalog view from fetched customers and items.
// Candidate lists are sorted by name for stable operator prompts.
func NewCatalogView(customers []Customer, items []CatalogItem) *CatalogView {
	v := &CatalogView{
		customers: make(map[string]Customer, len(customers)),
		items:     make(map[string]CatalogItem, len(items)),
	}

	for _, c := range customers {
		v.customers[c.ID] = c
	}
	for _, it := range items {
		v.items[it.ID] = it
	}

	v.ordered.customers = make([]Customer, 0, len(v.customers))
	for _, c := range v.customers {
		v.ordered.customers = append(v.ordered.customers, c)
	}
	sort.Slice(v.ordered.customers, func(i, j int) bool {
		a, b := v.ordered.customers[i], v.ordered.customers[j]
		if !strings.EqualFold(a.Name, b.Name) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return a.ID < b.ID
	})

	v.ordered.items = make([]CatalogItem, 0, len(v.items))
	for _, it := range v.items {
		v.ordered.items = append(v.ordered.items, it)
	}
	sort.Slice(v.ordered.items, func(i, j int) bool {
		a, b := v.ordered.items[i], v.ordered.items[j]
		if !strings.EqualFold(a.Name, b.Name) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return a.ID < b.ID
	})

	return v
}

// HasCustomer reports whether the customer ID exists in the snapshot
func (v *CatalogView) HasCustomer(id string) bool {
	_, ok := v.customers[id]
	return ok
}

// HasItem reports whether the catalog item ID exists in the snapshot
func (v *CatalogView) HasItem(id string) bool {
	_, ok := v.items[id]
	return ok
}

// Customer returns the customer for an ID, if present
func (v *CatalogView) Customer(id string) (Customer, bool) {
	c, ok := v.customers[id]
	return c, ok
}

// Item returns the catalog item for an ID, if present
func (v *CatalogView) Item(id string) (CatalogItem, bool) {
	it, ok := v.items[id]
	return it, ok
}

// CurrentPrice returns the snapshot's unit price for a catalog item.
// Used by live-priced invoice lines.
func (v *CatalogView) CurrentPrice(itemID string) (valueobject.Money, bool) {
	it, ok := v.items[itemID]
	if !ok {
		return valueobject.Money{}, false
	}
	return it.UnitPrice, true
}

// Customers returns all customers sorted by name
func (v *CatalogView) Customers() []Customer {
	return v.ordered.customers
}

// Items returns all catalog items sorted by name
func (v *CatalogView) Items() []CatalogItem {
	return v.ordered.items
}

// CustomerCount returns the number of customers in the snapshot
func (v *CatalogView) CustomerCount() int {
	return len(v.customers)
}

// ItemCount returns the number of catalog items in the snapshot
func (v *CatalogView) ItemCount() int {
	return len(v.items)
}
