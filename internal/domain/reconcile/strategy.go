package reconcile

import "context"

// EntityDecision is a strategy's answer for one unresolved entity
type EntityDecision struct {
	// Skip leaves the entity unresolved for this run
	Skip bool

	// Customer is the chosen target; meaningful only when Skip is false
	Customer Customer
}

// TierDecision is a strategy's answer for one unresolved tier
type TierDecision struct {
	// Skip leaves the tier unresolved for this run
	Skip bool

	// Item is the chosen target; meaningful only when Skip is false
	Item CatalogItem
}

// ResolutionStrategy decides what to do with subjects the detector flagged
// as new, invalid, or reappeared. The interactive implementation asks an
// operator; the skip implementation lets a scheduled run complete without
// one. Strategies only answer questions: applying the answer (mapping
// writes, audit entries) is the caller's job.
type ResolutionStrategy interface {
	// ResolveEntity picks a customer for the entity, or skips it.
	// Candidates come from the run's catalog snapshot, sorted by name.
	ResolveEntity(ctx context.Context, finding EntityFinding, candidates []Customer) (EntityDecision, error)

	// ResolveTier picks a catalog item for the tier, or skips it.
	// Candidates come from the run's catalog snapshot, sorted by name.
	ResolveTier(ctx context.Context, finding TierFinding, candidates []CatalogItem) (TierDecision, error)
}

// SkipStrategy skips every decision. It is the strategy behind
// non-interactive runs: nothing is resolved, nothing is mutated, and the
// run still completes for subjects that were already resolved earlier.
type SkipStrategy struct{}

// NewSkipStrategy creates the non-interactive strategy
func NewSkipStrategy() *SkipStrategy {
	return &SkipStrategy{}
}

// ResolveEntity always skips
func (s *SkipStrategy) ResolveEntity(_ context.Context, _ EntityFinding, _ []Customer) (EntityDecision, error) {
	return EntityDecision{Skip: true}, nil
}

// ResolveTier always skips
func (s *SkipStrategy) ResolveTier(_ context.Context, _ TierFinding, _ []CatalogItem) (TierDecision, error) {
	return TierDecision{Skip: true}, nil
}

var _ ResolutionStrategy = (*SkipStrategy)(nil)
