package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/reckon/engine/internal/application/invoicing"
	"github.com/reckon/engine/internal/application/pipeline"
	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// Writer renders run results as plain text for the terminal. Structured
// output goes through the zap logs and the JSON summary; this is the
// operator-readable view.
type Writer struct {
	out io.Writer
}

// NewWriter creates a writer printing to out
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteSummary prints a human-readable run summary
func (w *Writer) WriteSummary(summary *pipeline.RunSummary) {
	fmt.Fprintf(w.out, "\nRun %s for %s (mode %s, decided by %s)\n",
		summary.RunID, summary.Period, summary.Mode, summary.DecidedBy)

	fmt.Fprintln(w.out, "Phases:")
	for _, phase := range summary.Phases {
		if phase.Skipped {
			fmt.Fprintf(w.out, "  %-10s skipped\n", phase.Name)
			continue
		}
		fmt.Fprintf(w.out, "  %-10s %dms\n", phase.Name, phase.DurationMS)
	}

	if summary.Ingest != nil {
		fmt.Fprintf(w.out, "Ingest: %d snapshots, %d records, %d lines skipped, %d excluded, %d high-water rows\n",
			summary.Ingest.SnapshotsParsed,
			summary.Ingest.RecordsIngested,
			summary.Ingest.SkippedLines,
			summary.Ingest.ExcludedRecords,
			summary.Ingest.HighWaterRows)
	}

	if summary.Changes != nil {
		fmt.Fprintf(w.out, "Changes: entities %d new, %d invalid, %d reappeared, %d missing; tiers %d new, %d invalid, %d reappeared\n",
			summary.Changes.NewEntities,
			summary.Changes.InvalidEntities,
			summary.Changes.ReappearedEntities,
			summary.Changes.MissingEntities,
			summary.Changes.NewTiers,
			summary.Changes.InvalidTiers,
			summary.Changes.ReappearedTiers)
	}

	if summary.Resolution != nil {
		fmt.Fprintf(w.out, "Resolution: %d entities resolved, %d skipped; %d tiers resolved, %d skipped\n",
			summary.Resolution.ResolvedEntities,
			summary.Resolution.SkippedEntities,
			summary.Resolution.ResolvedTiers,
			summary.Resolution.SkippedTiers)
		if len(summary.Resolution.UnresolvedEntities) > 0 {
			fmt.Fprintf(w.out, "  unresolved entities: %s\n", strings.Join(summary.Resolution.UnresolvedEntities, ", "))
		}
		if len(summary.Resolution.UnresolvedTiers) > 0 {
			fmt.Fprintf(w.out, "  unresolved tiers: %s\n", strings.Join(summary.Resolution.UnresolvedTiers, ", "))
		}
	}

	if summary.Invoices != nil {
		fmt.Fprintf(w.out, "Invoices: %d attempted, %d committed, %d failed, %d skipped duplicates, %d drafted\n",
			summary.Invoices.Attempted,
			summary.Invoices.Committed,
			summary.Invoices.Failed,
			summary.Invoices.SkippedDuplicates,
			summary.Invoices.Drafted)
		w.writeFailureNotes(summary.Invoices.FailureNotes)
	}
	if summary.SkippedInvoiceRows > 0 {
		fmt.Fprintf(w.out, "Usage rows not billable: %d (see log for reasons)\n", summary.SkippedInvoiceRows)
	}

	if summary.HasIssues() {
		fmt.Fprintln(w.out, "Result: completed with issues")
	} else {
		fmt.Fprintln(w.out, "Result: clean")
	}
	fmt.Fprintf(w.out, "Duration: %dms\n", summary.DurationMS)
}

// WriteSummaryJSON prints the machine-readable summary
func (w *Writer) WriteSummaryJSON(summary *pipeline.RunSummary) error {
	data, err := summary.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	fmt.Fprintln(w.out, string(data))
	return nil
}

// WritePreview prints would-be invoices assembled from stored data.
// Nothing it shows has been persisted or committed.
func (w *Writer) WritePreview(period valueobject.BillingPeriod, result *invoicing.Result) {
	fmt.Fprintf(w.out, "\nInvoice preview for %s: %d invoices\n", period.String(), len(result.Invoices))

	for _, inv := range result.Invoices {
		fmt.Fprintf(w.out, "\n%s (%s): %d lines, total %s\n",
			inv.CustomerName, inv.CustomerID, inv.LineItemCount, inv.TotalAmount.String())
		for _, line := range inv.Lines {
			fmt.Fprintf(w.out, "  %s: %d x %s = %s\n",
				line.Description, line.Quantity, line.UnitPrice.String(), line.Amount.String())
		}
	}

	if len(result.SkippedRows) > 0 {
		fmt.Fprintf(w.out, "\nNot billable (%d rows):\n", len(result.SkippedRows))
		for _, row := range result.SkippedRows {
			fmt.Fprintf(w.out, "  %s/%s: %s\n", row.EntityID, row.TierID, row.Reason)
		}
	}
	if result.ExcludedRows > 0 {
		fmt.Fprintf(w.out, "Excluded by filter: %d rows\n", result.ExcludedRows)
	}
}

// WriteStatus prints the period's stored invoice records
func (w *Writer) WriteStatus(period valueobject.BillingPeriod, records []*invoice.Invoice) {
	if len(records) == 0 {
		fmt.Fprintf(w.out, "No invoice records for %s\n", period.String())
		return
	}

	fmt.Fprintf(w.out, "Invoice records for %s (%d):\n", period.String(), len(records))
	for _, record := range records {
		line := fmt.Sprintf("  %-9s %s (%s), %d lines, %s",
			record.Status.String(), record.CustomerName, record.CustomerID,
			record.LineItemCount, record.TotalAmount.String())
		if record.ExternalInvoiceID != "" {
			line += ", external " + record.ExternalInvoiceID
		}
		if record.Notes != "" {
			line += ", note: " + record.Notes
		}
		fmt.Fprintln(w.out, line)
	}
}

func (w *Writer) writeFailureNotes(notes map[string]string) {
	if len(notes) == 0 {
		return
	}
	customers := make([]string, 0, len(notes))
	for customer := range notes {
		customers = append(customers, customer)
	}
	sort.Strings(customers)
	for _, customer := range customers {
		fmt.Fprintf(w.out, "  failed %s: %s\n", customer, notes[customer])
	}
}
