// Package cli is the operator-facing surface of a run: the interactive
// resolution prompter and the plain-text writers for summaries,
// previews, and stored invoice status.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/reckon/engine/internal/domain/reconcile"
)

// Prompter resolves findings by asking an operator on the terminal.
// Candidates print as a numbered list, 0 skips, invalid input reprompts,
// and end of input skips so a run with a closed stdin cannot hang.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a prompter reading decisions from in and writing
// prompts to out
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ResolveEntity asks the operator to pick a billing customer for an
// observed entity, or to skip it for this run
func (p *Prompter) ResolveEntity(ctx context.Context, finding reconcile.EntityFinding, candidates []reconcile.Customer) (reconcile.EntityDecision, error) {
	fmt.Fprintf(p.out, "\n%s entity: %s\n", describeBucket(finding.Bucket), finding.EntityID)
	if finding.Mapping != nil && finding.Mapping.IsResolved() {
		fmt.Fprintf(p.out, "  previously mapped to %s (%s)\n",
			finding.Mapping.CustomerID, finding.Mapping.CustomerName)
	}
	fmt.Fprintln(p.out, "Select a customer:")
	for i, candidate := range candidates {
		fmt.Fprintf(p.out, "  %d) %s (%s)\n", i+1, candidate.Name, candidate.ID)
	}
	fmt.Fprintln(p.out, "  0) skip")

	choice, err := p.readChoice(ctx, len(candidates))
	if err != nil {
		return reconcile.EntityDecision{}, err
	}
	if choice == 0 {
		return reconcile.EntityDecision{Skip: true}, nil
	}
	return reconcile.EntityDecision{Customer: candidates[choice-1]}, nil
}

// ResolveTier asks the operator to pick a catalog item for an observed
// tier, or to skip it for this run. Each candidate shows its current
// unit price, which becomes the tier's price snapshot when chosen.
func (p *Prompter) ResolveTier(ctx context.Context, finding reconcile.TierFinding, candidates []reconcile.CatalogItem) (reconcile.TierDecision, error) {
	fmt.Fprintf(p.out, "\n%s tier: %s\n", describeBucket(finding.Bucket), finding.TierID)
	if finding.Mapping != nil && finding.Mapping.IsResolved() {
		fmt.Fprintf(p.out, "  previously mapped to %s (%s) at %s\n",
			finding.Mapping.CatalogItemID, finding.Mapping.CatalogItemName, finding.Mapping.UnitPrice.String())
	}
	fmt.Fprintln(p.out, "Select a catalog item:")
	for i, candidate := range candidates {
		fmt.Fprintf(p.out, "  %d) %s (%s) at %s\n", i+1, candidate.Name, candidate.ID, candidate.UnitPrice.String())
	}
	fmt.Fprintln(p.out, "  0) skip")

	choice, err := p.readChoice(ctx, len(candidates))
	if err != nil {
		return reconcile.TierDecision{}, err
	}
	if choice == 0 {
		return reconcile.TierDecision{Skip: true}, nil
	}
	return reconcile.TierDecision{Item: candidates[choice-1]}, nil
}

// readChoice reads a number in [0, max], reprompting on anything else.
// A clean end of input answers 0.
func (p *Prompter) readChoice(ctx context.Context, max int) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		fmt.Fprintf(p.out, "Choice [0-%d]: ", max)
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				fmt.Fprintln(p.out, "skipped (end of input)")
				return 0, nil
			}
			return 0, fmt.Errorf("failed to read choice: %w", err)
		}

		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || choice < 0 || choice > max {
			fmt.Fprintf(p.out, "Enter a number between 0 and %d\n", max)
			continue
		}
		return choice, nil
	}
}

func describeBucket(bucket reconcile.Bucket) string {
	switch bucket {
	case reconcile.BucketInvalid:
		return "Invalid"
	case reconcile.BucketReappeared:
		return "Reappeared"
	default:
		return "New"
	}
}

var _ reconcile.ResolutionStrategy = (*Prompter)(nil)
