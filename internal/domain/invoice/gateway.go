package invoice

import (
	"context"
	"errors"
)

// Gateway commits assembled invoices to the external billing system
type Gateway interface {
	// CommitInvoice submits one invoice and returns the billing system's
	// invoice ID. Implementations handle transport-level retry and rate
	// limiting; an error returned here is final for this run.
	CommitInvoice(ctx context.Context, inv *Invoice) (externalInvoiceID string, err error)
}

// TransientError is implemented by errors that describe temporary
// conditions (network trouble, throttling, 5xx responses) where a later
// retry may succeed. Permanent failures such as validation and
// authorization errors do not implement it, or report false.
type TransientError interface {
	error
	Transient() bool
}

// IsTransient reports whether an error anywhere in the chain declares
// itself transient
func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return false
}
