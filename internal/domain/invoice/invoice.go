package invoice

import (
	"strings"

	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// InvoiceStatus is the lifecycle state of an invoice record
type InvoiceStatus string

const (
	// InvoiceStatusPending marks an invoice recorded locally but not yet
	// accepted by the billing system. Pending rows are safe to retry.
	InvoiceStatusPending InvoiceStatus = "pending"

	// InvoiceStatusCommitted marks an invoice the billing system accepted.
	// Committed is terminal: reruns observe the row and skip.
	InvoiceStatusCommitted InvoiceStatus = "committed"

	// InvoiceStatusFailed marks a commit attempt that errored. Failed rows
	// are retried on the next run.
	InvoiceStatusFailed InvoiceStatus = "failed"
)

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known lifecycle state
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusCommitted, InvoiceStatusFailed:
		return true
	}
	return false
}

// InvoiceLine is one billable line: the peak usage of one (entity, tier)
// pair priced at the tier's unit price
type InvoiceLine struct {
	EntityID    string            `json:"entity_id"`
	TierID      string            `json:"tier_id"`
	Description string            `json:"description"`
	Quantity    int64             `json:"quantity"`
	UnitPrice   valueobject.Money `json:"unit_price"`
	Amount      valueobject.Money `json:"amount"`
}

// Invoice is one customer's invoice for one billing period.
//
// The persisted record carries the aggregate facts (key, total, status);
// the lines exist in memory for the external commit and are rebuilt from
// usage data whenever a failed record is retried on a later run.
type Invoice struct {
	shared.BaseEntity
	CustomerID        string
	CustomerName      string
	BillingYear       int
	BillingMonth      int
	IdempotencyKey    string
	ExternalInvoiceID string
	TotalAmount       valueobject.Money
	Status            InvoiceStatus
	LineItemCount     int
	Notes             string

	Lines []InvoiceLine
}

// NewInvoice creates a pending invoice from assembled lines.
// The idempotency key is derived from the customer and period alone, so
// a rerun over the same month produces the same key no matter how the
// usage data changed in between.
func NewInvoice(customerID, customerName string, period valueobject.BillingPeriod, lines []InvoiceLine) (*Invoice, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if len(lines) == 0 {
		return nil, shared.NewDomainError("EMPTY_INVOICE", "Invoice must have at least one line")
	}

	total := valueobject.Zero(lines[0].Amount.Currency())
	for _, line := range lines {
		sum, err := total.Add(line.Amount)
		if err != nil {
			return nil, shared.NewDomainError("CURRENCY_MISMATCH", err.Error())
		}
		total = sum
	}

	return &Invoice{
		BaseEntity:     shared.NewBaseEntity(),
		CustomerID:     customerID,
		CustomerName:   customerName,
		BillingYear:    period.Year(),
		BillingMonth:   period.Month(),
		IdempotencyKey: IdempotencyKey(customerID, period),
		TotalAmount:    total,
		Status:         InvoiceStatusPending,
		LineItemCount:  len(lines),
		Lines:          lines,
	}, nil
}

// Period returns the billing period the invoice covers
func (i *Invoice) Period() valueobject.BillingPeriod {
	p, _ := valueobject.NewBillingPeriod(i.BillingYear, i.BillingMonth)
	return p
}

// MarkCommitted records acceptance by the billing system.
// Committed is terminal; committing twice is an invariant violation.
func (i *Invoice) MarkCommitted(externalInvoiceID string) error {
	if i.Status == InvoiceStatusCommitted {
		return shared.NewDomainError("ALREADY_COMMITTED", "Invoice is already committed")
	}
	if strings.TrimSpace(externalInvoiceID) == "" {
		return shared.NewDomainError("INVALID_EXTERNAL_ID", "External invoice ID cannot be empty")
	}
	i.ExternalInvoiceID = externalInvoiceID
	i.Status = InvoiceStatusCommitted
	i.Notes = ""
	return nil
}

// MarkFailed records a failed commit attempt with a diagnostic note
func (i *Invoice) MarkFailed(note string) error {
	if i.Status == InvoiceStatusCommitted {
		return shared.NewDomainError("ALREADY_COMMITTED", "Cannot fail a committed invoice")
	}
	i.Status = InvoiceStatusFailed
	i.Notes = note
	return nil
}

// RefreshFrom replaces the record's lines and total with a newer
// assembly for the same customer and period, keeping the stored
// identity and status history. Committed content is frozen.
func (i *Invoice) RefreshFrom(assembled *Invoice) error {
	if i.Status == InvoiceStatusCommitted {
		return shared.NewDomainError("ALREADY_COMMITTED", "Cannot refresh a committed invoice")
	}
	if assembled.IdempotencyKey != i.IdempotencyKey {
		return shared.NewDomainError("KEY_MISMATCH", "Refresh source covers a different customer or period")
	}
	i.CustomerName = assembled.CustomerName
	i.TotalAmount = assembled.TotalAmount
	i.LineItemCount = assembled.LineItemCount
	i.Lines = assembled.Lines
	return nil
}

// IsCommitted returns true once the billing system has accepted the invoice
func (i *Invoice) IsCommitted() bool {
	return i.Status == InvoiceStatusCommitted
}

// CanRetry returns true if a commit attempt may be made for this record
func (i *Invoice) CanRetry() bool {
	return i.Status != InvoiceStatusCommitted
}
