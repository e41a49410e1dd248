// Package invoicing turns a period's resolved usage into invoice
// records and commits them to the external billing system, exactly
// once per customer and period.
package invoicing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
)

// Mode selects how far the invoicing phase goes
type Mode string

const (
	// ModeCommit records invoices and commits them externally
	ModeCommit Mode = "commit"

	// ModeDraft records invoices locally and skips the external commit;
	// rows stay pending for a later committing run
	ModeDraft Mode = "draft"

	// ModePreview assembles in memory only; nothing is written anywhere
	ModePreview Mode = "preview"
)

// String returns the string representation of Mode
func (m Mode) String() string {
	return string(m)
}

// Result summarizes one invoicing phase
type Result struct {
	// Attempted counts external commit attempts this run
	Attempted int `json:"attempted"`

	// Committed counts invoices the billing system accepted this run
	Committed int `json:"committed"`

	// Failed counts commit attempts that errored
	Failed int `json:"failed"`

	// SkippedDuplicates counts customers whose invoice was already
	// committed by an earlier run
	SkippedDuplicates int `json:"skipped_duplicates"`

	// Drafted counts invoices recorded without an external commit
	Drafted int `json:"drafted"`

	// ExcludedRows counts stored high-water rows dropped by the
	// exclusion filter before assembly
	ExcludedRows int `json:"excluded_rows"`

	// FailureNotes maps customer ID to the diagnostic for each failed
	// commit
	FailureNotes map[string]string `json:"failure_notes,omitempty"`

	// Invoices holds the final state of every record this phase touched
	// or assembled
	Invoices []*invoice.Invoice `json:"-"`

	// SkippedRows lists the usage rows no invoice line could be built
	// for and why
	SkippedRows []invoice.SkippedRow `json:"-"`
}

// Service orchestrates invoice assembly, recording, and external commit
// for one billing period.
type Service struct {
	highWater  usage.MonthlyHighWaterRepository
	entities   mapping.EntityMappingRepository
	tiers      mapping.TierMappingRepository
	invoices   invoice.InvoiceRepository
	gateway    invoice.Gateway
	exclusions *usage.ExclusionFilter
	logger     *zap.Logger
}

// NewService creates a new invoicing service. A nil exclusion filter
// means nothing is excluded.
func NewService(
	highWater usage.MonthlyHighWaterRepository,
	entities mapping.EntityMappingRepository,
	tiers mapping.TierMappingRepository,
	invoices invoice.InvoiceRepository,
	gateway invoice.Gateway,
	exclusions *usage.ExclusionFilter,
	logger *zap.Logger,
) *Service {
	if exclusions == nil {
		exclusions, _ = usage.NewExclusionFilter(nil, nil)
	}
	return &Service{
		highWater:  highWater,
		entities:   entities,
		tiers:      tiers,
		invoices:   invoices,
		gateway:    gateway,
		exclusions: exclusions,
		logger:     logger,
	}
}

// GenerateInvoices assembles the period's invoices and processes them
// per the mode. Commit errors are isolated per customer: one failed
// commit is recorded and the batch moves on. Store errors abort the
// batch; invoicing must not continue when it cannot record outcomes.
func (s *Service) GenerateInvoices(ctx context.Context, period valueobject.BillingPeriod, catalog *reconcile.CatalogView, mode Mode) (*Result, error) {
	assembly, excluded, err := s.assemble(ctx, period, catalog)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ExcludedRows: excluded,
		FailureNotes: make(map[string]string),
		SkippedRows:  assembly.Skipped,
	}
	for _, skip := range assembly.Skipped {
		s.logger.Warn("Usage row not billable",
			zap.String("entity_id", skip.EntityID),
			zap.String("tier_id", skip.TierID),
			zap.String("reason", skip.Reason))
	}

	if mode == ModePreview {
		result.Invoices = assembly.Invoices
		s.logger.Info("Invoice preview assembled",
			zap.String("period", period.String()),
			zap.Int("invoices", len(assembly.Invoices)),
			zap.Int("skipped_rows", len(assembly.Skipped)))
		return result, nil
	}

	for _, inv := range assembly.Invoices {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("invoice batch cancelled: %w", err)
		}
		if err := s.processOne(ctx, inv, mode, result); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Invoicing complete",
		zap.String("period", period.String()),
		zap.String("mode", mode.String()),
		zap.Int("attempted", result.Attempted),
		zap.Int("committed", result.Committed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped_duplicates", result.SkippedDuplicates),
		zap.Int("drafted", result.Drafted))
	return result, nil
}

// StoredInvoices returns the period's invoice records as persisted,
// without touching usage data or the gateway.
func (s *Service) StoredInvoices(ctx context.Context, period valueobject.BillingPeriod) ([]*invoice.Invoice, error) {
	records, err := s.invoices.FindByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices for %s: %w", period.String(), err)
	}
	return records, nil
}

// assemble builds the period's invoices in memory from stored
// high-water rows and the mapping tables. Stored rows pass through the
// exclusion filter again so a preview run honors the current
// configuration even against rows aggregated under an older one.
func (s *Service) assemble(ctx context.Context, period valueobject.BillingPeriod, catalog *reconcile.CatalogView) (*invoice.AssemblyResult, int, error) {
	rows, err := s.highWater.FindByPeriod(ctx, period)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load high-water marks for %s: %w", period.String(), err)
	}
	rows, excluded := s.exclusions.FilterHighWater(rows)

	entityMappings, err := s.entities.FindAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load entity mappings: %w", err)
	}
	tierMappings, err := s.tiers.FindAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load tier mappings: %w", err)
	}

	in := invoice.AssemblerInput{
		Period:         period,
		HighWater:      rows,
		EntityMappings: entityMappings,
		TierMappings:   tierMappings,
	}
	if catalog != nil {
		in.Prices = catalog
		in.Targets = catalog
	}

	assembly, err := invoice.AssembleInvoices(in)
	if err != nil {
		return nil, 0, err
	}
	return assembly, excluded, nil
}

func (s *Service) processOne(ctx context.Context, assembled *invoice.Invoice, mode Mode, result *Result) error {
	ctx, span := telemetry.StartSpan(ctx, "invoice.process",
		telemetry.WithAttribute(telemetry.SpanAttrCustomerID, assembled.CustomerID))
	defer span.End()

	stored, inserted, err := s.invoices.InsertIfAbsent(ctx, assembled)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to record invoice for customer %s: %w", assembled.CustomerID, err)
	}

	record := assembled
	if !inserted {
		if stored.IsCommitted() {
			result.SkippedDuplicates++
			result.Invoices = append(result.Invoices, stored)
			s.logger.Info("Invoice already committed, skipping",
				zap.String("customer_id", stored.CustomerID),
				zap.String("external_invoice_id", stored.ExternalInvoiceID))
			telemetry.SetAttributes(span, "invoice.outcome", "skipped_duplicate")
			return nil
		}
		// A pending or failed record from an earlier run: retry it with
		// lines rebuilt from current usage data.
		if err := stored.RefreshFrom(assembled); err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to refresh invoice for customer %s: %w", stored.CustomerID, err)
		}
		record = stored
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrInvoiceID, record.IdempotencyKey)

	if mode == ModeDraft {
		if !inserted {
			if err := s.invoices.Update(ctx, record); err != nil {
				telemetry.RecordError(span, err)
				return fmt.Errorf("failed to update draft invoice for customer %s: %w", record.CustomerID, err)
			}
		}
		result.Drafted++
		result.Invoices = append(result.Invoices, record)
		s.logger.Info("Draft invoice recorded",
			zap.String("customer_id", record.CustomerID),
			zap.String("total", record.TotalAmount.String()),
			zap.Int("lines", record.LineItemCount))
		telemetry.SetAttributes(span, "invoice.outcome", "drafted")
		return nil
	}

	result.Attempted++
	externalID, err := s.gateway.CommitInvoice(ctx, record)
	if err != nil {
		note := err.Error()
		if markErr := record.MarkFailed(note); markErr != nil {
			telemetry.RecordError(span, markErr)
			return fmt.Errorf("failed to mark invoice failed for customer %s: %w", record.CustomerID, markErr)
		}
		if updateErr := s.invoices.Update(ctx, record); updateErr != nil {
			telemetry.RecordError(span, updateErr)
			return fmt.Errorf("failed to record commit failure for customer %s: %w", record.CustomerID, updateErr)
		}
		result.Failed++
		result.FailureNotes[record.CustomerID] = note
		result.Invoices = append(result.Invoices, record)
		s.logger.Error("Invoice commit failed",
			zap.String("customer_id", record.CustomerID),
			zap.Bool("transient", invoice.IsTransient(err)),
			zap.Error(err))
		telemetry.RecordError(span, err)
		return nil
	}

	if err := record.MarkCommitted(externalID); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to mark invoice committed for customer %s: %w", record.CustomerID, err)
	}
	if err := s.invoices.Update(ctx, record); err != nil {
		// The billing system accepted the invoice but the local record
		// still says otherwise; a rerun would commit it twice. Stop and
		// surface the external ID for manual reconciliation.
		s.logger.Error("Invoice committed externally but record update failed",
			zap.String("customer_id", record.CustomerID),
			zap.String("external_invoice_id", externalID),
			zap.Error(err))
		telemetry.RecordError(span, err)
		return fmt.Errorf("invoice for customer %s committed as %s but record update failed: %w",
			record.CustomerID, externalID, err)
	}

	result.Committed++
	result.Invoices = append(result.Invoices, record)
	s.logger.Info("Invoice committed",
		zap.String("customer_id", record.CustomerID),
		zap.String("external_invoice_id", externalID),
		zap.String("total", record.TotalAmount.String()),
		zap.Int("lines", record.LineItemCount))
	telemetry.SetAttributes(span, "invoice.outcome", "committed")
	telemetry.SetOK(span)
	return nil
}
