package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/infrastructure/persistence/models"
)

// InvoiceRepository implements the invoice.InvoiceRepository interface
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// InsertIfAbsent atomically inserts the invoice unless a record with the same
// idempotency key already exists. The unique index on idempotency_key makes
// the insert race-free: concurrent runs for the same customer and period
// produce exactly one row.
func (r *InvoiceRepository) InsertIfAbsent(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, bool, error) {
	model := models.InvoiceRecordModelFromDomain(inv)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}

	// Conflict: another run already owns this key. Return its record.
	if result.RowsAffected == 0 {
		existing, err := r.FindByIdempotencyKey(ctx, inv.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return inv, true, nil
}

// Update persists status transitions on an existing record
func (r *InvoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	return r.db.WithContext(ctx).
		Model(&models.InvoiceRecordModel{}).
		Where("idempotency_key = ?", inv.IdempotencyKey).
		Updates(map[string]interface{}{
			"external_invoice_id": inv.ExternalInvoiceID,
			"status":              string(inv.Status),
			"notes":               inv.Notes,
		}).Error
}

// FindByIdempotencyKey retrieves the record for a key
func (r *InvoiceRepository) FindByIdempotencyKey(ctx context.Context, key string) (*invoice.Invoice, error) {
	var model models.InvoiceRecordModel
	err := r.db.WithContext(ctx).
		First(&model, "idempotency_key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByPeriod retrieves all records for a billing period, ordered by customer ID
func (r *InvoiceRepository) FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*invoice.Invoice, error) {
	var rows []models.InvoiceRecordModel
	err := r.db.WithContext(ctx).
		Where("billing_year = ? AND billing_month = ?", period.Year(), period.Month()).
		Order("customer_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	invoices := make([]*invoice.Invoice, len(rows))
	for i, row := range rows {
		inv, convErr := row.ToDomain()
		if convErr != nil {
			return nil, convErr
		}
		invoices[i] = inv
	}
	return invoices, nil
}

// Ensure InvoiceRepository implements the interface
var _ invoice.InvoiceRepository = (*InvoiceRepository)(nil)
