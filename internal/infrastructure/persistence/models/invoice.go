package models

import (
	"github.com/shopspring/decimal"

	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// InvoiceRecordModel is the GORM model for invoice records. The unique
// idempotency key is what makes invoice creation at-most-once: concurrent
// or repeated runs collide on the index instead of double-inserting.
type InvoiceRecordModel struct {
	BaseModel
	CustomerID        string          `gorm:"type:varchar(255);not null;index"`
	CustomerName      string          `gorm:"type:varchar(255)"`
	BillingYear       int             `gorm:"not null;index:idx_invoices_period"`
	BillingMonth      int             `gorm:"not null;index:idx_invoices_period"`
	IdempotencyKey    string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	ExternalInvoiceID string          `gorm:"type:varchar(255)"`
	TotalAmount       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'USD'"`
	Status            string          `gorm:"type:varchar(20);not null;default:'pending';index"`
	LineItemCount     int             `gorm:"not null"`
	Notes             string          `gorm:"type:text"`
}

// TableName returns the table name for the model
func (InvoiceRecordModel) TableName() string {
	return "invoice_records"
}

// ToDomain converts the model to a domain entity. Lines are not stored;
// they are rebuilt from usage data when a non-committed record is retried.
func (m *InvoiceRecordModel) ToDomain() (*invoice.Invoice, error) {
	total, err := valueobject.NewMoney(m.TotalAmount, valueobject.Currency(m.Currency))
	if err != nil {
		return nil, err
	}
	return &invoice.Invoice{
		BaseEntity:        m.BaseModel.ToDomain(),
		CustomerID:        m.CustomerID,
		CustomerName:      m.CustomerName,
		BillingYear:       m.BillingYear,
		BillingMonth:      m.BillingMonth,
		IdempotencyKey:    m.IdempotencyKey,
		ExternalInvoiceID: m.ExternalInvoiceID,
		TotalAmount:       total,
		Status:            invoice.InvoiceStatus(m.Status),
		LineItemCount:     m.LineItemCount,
		Notes:             m.Notes,
	}, nil
}

// InvoiceRecordModelFromDomain creates a model from a domain entity
func InvoiceRecordModelFromDomain(e *invoice.Invoice) *InvoiceRecordModel {
	m := &InvoiceRecordModel{
		CustomerID:        e.CustomerID,
		CustomerName:      e.CustomerName,
		BillingYear:       e.BillingYear,
		BillingMonth:      e.BillingMonth,
		IdempotencyKey:    e.IdempotencyKey,
		ExternalInvoiceID: e.ExternalInvoiceID,
		TotalAmount:       e.TotalAmount.Amount(),
		Currency:          string(e.TotalAmount.Currency()),
		Status:            e.Status.String(),
		LineItemCount:     e.LineItemCount,
		Notes:             e.Notes,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}
