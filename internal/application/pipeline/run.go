// Package pipeline composes the ingest, reconciliation, and invoicing
// phases into one reconciliation run with a single catalog snapshot, a
// run ID on every log line, and a machine-readable summary.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reckon/engine/internal/application/ingest"
	"github.com/reckon/engine/internal/application/invoicing"
	"github.com/reckon/engine/internal/application/reconciliation"
	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/infrastructure/logger"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
)

// Pipeline phase names, used for spans, log fields, and the summary
const (
	PhaseIngest    = "ingest"
	PhaseReconcile = "reconcile"
	PhaseInvoice   = "invoice"
)

// RunOptions selects what one pipeline invocation does
type RunOptions struct {
	Period valueobject.BillingPeriod

	// SkipFetch reuses stored usage records instead of reading snapshots
	SkipFetch bool

	// SkipIngest leaves stored usage and high-water data untouched
	SkipIngest bool

	// SkipReconcile skips change detection and resolution
	SkipReconcile bool

	// SkipInvoices skips invoice assembly and commit
	SkipInvoices bool

	// Draft records invoices locally without committing them externally
	Draft bool

	// Strategy answers resolution questions; nil means skip everything
	Strategy reconcile.ResolutionStrategy

	// DecidedBy attributes this run's resolution decisions in the audit
	// log; defaults to policy
	DecidedBy mapping.DecidedBy
}

// RunService wires the pipeline phases together
type RunService struct {
	catalog        reconcile.Catalog
	ingest         *ingest.Service
	reconciliation *reconciliation.Service
	invoicing      *invoicing.Service
	logger         *zap.Logger
}

// NewRunService creates the pipeline orchestrator
func NewRunService(
	catalog reconcile.Catalog,
	ingestService *ingest.Service,
	reconciliationService *reconciliation.Service,
	invoicingService *invoicing.Service,
	log *zap.Logger,
) *RunService {
	return &RunService{
		catalog:        catalog,
		ingest:         ingestService,
		reconciliation: reconciliationService,
		invoicing:      invoicingService,
		logger:         log,
	}
}

// Execute runs the selected phases for one billing period.
//
// The billing catalog is fetched once up front whenever reconciliation
// or invoicing will run; a failed fetch aborts before anything is
// mutated. A phase error stops the run, and everything already
// persisted stays safe to rerun.
func (s *RunService) Execute(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if opts.Strategy == nil {
		opts.Strategy = reconcile.NewSkipStrategy()
	}
	if !opts.DecidedBy.IsValid() {
		opts.DecidedBy = mapping.DecidedByPolicy
	}
	mode := invoicing.ModeCommit
	if opts.Draft {
		mode = invoicing.ModeDraft
	}

	runID := uuid.New().String()[:8]
	ctx, log := logger.WithRunID(ctx, s.logger, runID)
	ctx, span := telemetry.StartSpan(ctx, "run.execute",
		telemetry.WithAttribute(telemetry.SpanAttrRunID, runID),
		telemetry.WithAttribute(telemetry.SpanAttrPeriod, opts.Period.String()),
		telemetry.WithAttribute(telemetry.SpanAttrRunMode, mode.String()))
	defer span.End()

	summary := &RunSummary{
		RunID:     runID,
		Period:    opts.Period.String(),
		Mode:      mode.String(),
		DecidedBy: opts.DecidedBy.String(),
		StartedAt: time.Now().UTC(),
	}
	started := time.Now()

	log.Info("Reconciliation run starting",
		zap.String("period", opts.Period.String()),
		zap.String("mode", mode.String()),
		zap.Bool("skip_fetch", opts.SkipFetch),
		zap.Bool("skip_ingest", opts.SkipIngest),
		zap.Bool("skip_reconcile", opts.SkipReconcile),
		zap.Bool("skip_invoices", opts.SkipInvoices))

	var catalog *reconcile.CatalogView
	if !opts.SkipReconcile || !opts.SkipInvoices {
		view, err := s.fetchCatalog(ctx, log)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		catalog = view
	}

	err := s.runPhase(ctx, log, summary, PhaseIngest, opts.SkipIngest, func(phaseCtx context.Context) error {
		result, err := s.ingest.Run(phaseCtx, opts.Period, opts.SkipFetch)
		if err != nil {
			return err
		}
		summary.Ingest = result
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err = s.runPhase(ctx, log, summary, PhaseReconcile, opts.SkipReconcile, func(phaseCtx context.Context) error {
		report, err := s.reconciliation.Detect(phaseCtx, opts.Period, catalog)
		if err != nil {
			return err
		}
		summary.Changes = summarizeChanges(report)
		resolution, err := s.reconciliation.Resolve(phaseCtx, report, catalog, opts.Strategy, opts.DecidedBy)
		if err != nil {
			return err
		}
		summary.Resolution = resolution
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err = s.runPhase(ctx, log, summary, PhaseInvoice, opts.SkipInvoices, func(phaseCtx context.Context) error {
		result, err := s.invoicing.GenerateInvoices(phaseCtx, opts.Period, catalog, mode)
		if err != nil {
			return err
		}
		summary.Invoices = result
		summary.SkippedInvoiceRows = len(result.SkippedRows)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	summary.DurationMS = time.Since(started).Milliseconds()
	log.Info("Reconciliation run complete", summary.LogFields()...)
	telemetry.SetAttributes(span, "run.issues", summary.HasIssues())
	telemetry.SetOK(span)
	return summary, nil
}

// Preview assembles the period's invoices from stored data and the
// current catalog, writing nothing.
func (s *RunService) Preview(ctx context.Context, period valueobject.BillingPeriod) (*invoicing.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "run.preview",
		telemetry.WithAttribute(telemetry.SpanAttrPeriod, period.String()))
	defer span.End()

	catalog, err := s.fetchCatalog(ctx, s.logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result, err := s.invoicing.GenerateInvoices(ctx, period, catalog, invoicing.ModePreview)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)
	return result, nil
}

// StoredInvoices returns the period's invoice records as the store has
// them, for status reporting.
func (s *RunService) StoredInvoices(ctx context.Context, period valueobject.BillingPeriod) ([]*invoice.Invoice, error) {
	return s.invoicing.StoredInvoices(ctx, period)
}

func (s *RunService) fetchCatalog(ctx context.Context, log *zap.Logger) (*reconcile.CatalogView, error) {
	view, err := s.catalog.FetchCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch billing catalog: %w", err)
	}
	log.Info("Billing catalog fetched",
		zap.Int("customers", view.CustomerCount()),
		zap.Int("items", view.ItemCount()))
	return view, nil
}

// runPhase wraps one phase with its span, phase-tagged logging, and
// summary timing. Skipped phases still appear in the summary.
func (s *RunService) runPhase(ctx context.Context, log *zap.Logger, summary *RunSummary, name string, skip bool, fn func(context.Context) error) error {
	if skip {
		summary.Phases = append(summary.Phases, PhaseReport{Name: name, Skipped: true})
		log.Info("Phase skipped", zap.String("phase", name))
		return nil
	}

	phaseCtx, phaseLog := logger.WithPhase(ctx, log, name)
	phaseCtx, span := telemetry.StartPhaseSpan(phaseCtx, name)
	defer span.End()

	start := time.Now()
	phaseLog.Info("Phase starting")
	if err := fn(phaseCtx); err != nil {
		telemetry.RecordError(span, err)
		summary.Phases = append(summary.Phases, PhaseReport{Name: name, DurationMS: time.Since(start).Milliseconds()})
		return fmt.Errorf("%s phase: %w", name, err)
	}

	telemetry.SetOK(span)
	summary.Phases = append(summary.Phases, PhaseReport{Name: name, DurationMS: time.Since(start).Milliseconds()})
	phaseLog.Info("Phase complete", zap.Duration("duration", time.Since(start)))
	return nil
}
