package pipeline

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/application/ingest"
	"github.com/reckon/engine/internal/application/invoicing"
	"github.com/reckon/engine/internal/application/reconciliation"
	"github.com/reckon/engine/internal/domain/reconcile"
)

// PhaseReport records one pipeline phase's outcome for the summary
type PhaseReport struct {
	Name       string `json:"name"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ChangeCounts condenses a ChangeReport into per-kind totals
type ChangeCounts struct {
	NewEntities        int `json:"new_entities"`
	InvalidEntities    int `json:"invalid_entities"`
	ReappearedEntities int `json:"reappeared_entities"`
	MissingEntities    int `json:"missing_entities"`
	NewTiers           int `json:"new_tiers"`
	InvalidTiers       int `json:"invalid_tiers"`
	ReappearedTiers    int `json:"reappeared_tiers"`
}

// RunSummary is the machine-readable record of one pipeline run.
// Sections for skipped phases stay nil.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Period     string    `json:"period"`
	Mode       string    `json:"mode"`
	DecidedBy  string    `json:"decided_by"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`

	Phases []PhaseReport `json:"phases"`

	Ingest     *ingest.Result         `json:"ingest,omitempty"`
	Changes    *ChangeCounts          `json:"changes,omitempty"`
	Resolution *reconciliation.Result `json:"resolution,omitempty"`
	Invoices   *invoicing.Result      `json:"invoices,omitempty"`

	// SkippedInvoiceRows counts usage rows no invoice line could be
	// built for
	SkippedInvoiceRows int `json:"skipped_invoice_rows"`
}

// HasIssues reports whether the run left anything needing operator
// attention: unresolved subjects, missing entities, unbillable rows, or
// failed commits. The exit-code policy consults this together with the
// run.fail_on_issues setting.
func (s *RunSummary) HasIssues() bool {
	if s.Resolution != nil && (len(s.Resolution.UnresolvedEntities) > 0 || len(s.Resolution.UnresolvedTiers) > 0) {
		return true
	}
	if s.Changes != nil && s.Changes.MissingEntities > 0 {
		return true
	}
	if s.Invoices != nil && s.Invoices.Failed > 0 {
		return true
	}
	return s.SkippedInvoiceRows > 0
}

// JSON renders the summary as indented JSON
func (s *RunSummary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// LogFields flattens the summary's headline numbers for the run's
// closing log entry
func (s *RunSummary) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("period", s.Period),
		zap.String("mode", s.Mode),
		zap.Int64("duration_ms", s.DurationMS),
		zap.Bool("issues", s.HasIssues()),
	}
	if s.Ingest != nil {
		fields = append(fields,
			zap.Int("snapshots_parsed", s.Ingest.SnapshotsParsed),
			zap.Int("records_ingested", s.Ingest.RecordsIngested),
			zap.Int("high_water_rows", s.Ingest.HighWaterRows))
	}
	if s.Changes != nil {
		fields = append(fields,
			zap.Int("new_entities", s.Changes.NewEntities),
			zap.Int("invalid_entities", s.Changes.InvalidEntities),
			zap.Int("missing_entities", s.Changes.MissingEntities),
			zap.Int("new_tiers", s.Changes.NewTiers))
	}
	if s.Resolution != nil {
		fields = append(fields,
			zap.Int("resolved_entities", s.Resolution.ResolvedEntities),
			zap.Int("resolved_tiers", s.Resolution.ResolvedTiers),
			zap.Int("unresolved_entities", len(s.Resolution.UnresolvedEntities)),
			zap.Int("unresolved_tiers", len(s.Resolution.UnresolvedTiers)))
	}
	if s.Invoices != nil {
		fields = append(fields,
			zap.Int("invoices_attempted", s.Invoices.Attempted),
			zap.Int("invoices_committed", s.Invoices.Committed),
			zap.Int("invoices_failed", s.Invoices.Failed),
			zap.Int("invoices_skipped_duplicate", s.Invoices.SkippedDuplicates))
	}
	return fields
}

func summarizeChanges(report *reconcile.ChangeReport) *ChangeCounts {
	return &ChangeCounts{
		NewEntities:        report.CountEntities(reconcile.BucketNew),
		InvalidEntities:    report.CountEntities(reconcile.BucketInvalid),
		ReappearedEntities: report.CountEntities(reconcile.BucketReappeared),
		MissingEntities:    len(report.MissingEntities),
		NewTiers:           report.CountTiers(reconcile.BucketNew),
		InvalidTiers:       report.CountTiers(reconcile.BucketInvalid),
		ReappearedTiers:    report.CountTiers(reconcile.BucketReappeared),
	}
}
