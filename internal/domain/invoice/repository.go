package invoice

import (
	"context"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// InvoiceRepository defines the interface for persisting invoice records
type InvoiceRepository interface {
	// InsertIfAbsent atomically inserts the invoice unless a record with
	// the same idempotency key already exists, relying on the store's
	// uniqueness constraint rather than a check-then-insert sequence.
	// It returns the stored record and true when the insert happened, or
	// the pre-existing record and false when the key was already taken.
	InsertIfAbsent(ctx context.Context, inv *Invoice) (*Invoice, bool, error)

	// Update persists status transitions on an existing record
	Update(ctx context.Context, inv *Invoice) error

	// FindByIdempotencyKey retrieves the record for a key.
	// Returns shared.ErrNotFound when absent.
	FindByIdempotencyKey(ctx context.Context, key string) (*Invoice, error)

	// FindByPeriod retrieves all records for a billing period, ordered by
	// customer ID
	FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*Invoice, error)
}
