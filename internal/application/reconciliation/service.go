// Package reconciliation drives change detection and resolution: it
// compares observed usage against the mapping tables and the billing
// catalog, asks the run's resolution strategy about every finding that
// needs a decision, and records each decision in the mapping audit log.
package reconciliation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
)

// Result summarizes one resolution phase
type Result struct {
	// ResolvedEntities and ResolvedTiers count subjects bound to a
	// catalog target this run
	ResolvedEntities int `json:"resolved_entities"`
	ResolvedTiers    int `json:"resolved_tiers"`

	// SkippedEntities and SkippedTiers count subjects left undecided
	SkippedEntities int `json:"skipped_entities"`
	SkippedTiers    int `json:"skipped_tiers"`

	// UnresolvedEntities and UnresolvedTiers list the subjects that
	// remain unbillable after this run, for the summary
	UnresolvedEntities []string `json:"unresolved_entities,omitempty"`
	UnresolvedTiers    []string `json:"unresolved_tiers,omitempty"`
}

// Service detects mapping changes for a period and applies resolution
// decisions. Detection is pure; every mutation (mapping upserts, audit
// entries) happens in Resolve.
type Service struct {
	entities      mapping.EntityMappingRepository
	tiers         mapping.TierMappingRepository
	changeLog     mapping.ChangeLogRepository
	highWater     usage.MonthlyHighWaterRepository
	exclusions    *usage.ExclusionFilter
	defaultPolicy mapping.PricingPolicy
	logger        *zap.Logger
}

// NewService creates a new reconciliation service. A nil exclusion
// filter means nothing is excluded; an unknown default pricing policy
// falls back to snapshot pricing.
func NewService(
	entities mapping.EntityMappingRepository,
	tiers mapping.TierMappingRepository,
	changeLog mapping.ChangeLogRepository,
	highWater usage.MonthlyHighWaterRepository,
	exclusions *usage.ExclusionFilter,
	defaultPolicy mapping.PricingPolicy,
	logger *zap.Logger,
) *Service {
	if exclusions == nil {
		exclusions, _ = usage.NewExclusionFilter(nil, nil)
	}
	if !defaultPolicy.IsValid() {
		defaultPolicy = mapping.PricingPolicySnapshot
	}
	return &Service{
		entities:      entities,
		tiers:         tiers,
		changeLog:     changeLog,
		highWater:     highWater,
		exclusions:    exclusions,
		defaultPolicy: defaultPolicy,
		logger:        logger,
	}
}

// Detect classifies the period's observed entities and tiers against
// the mapping tables and the catalog snapshot. It reads stores but
// writes nothing.
func (s *Service) Detect(ctx context.Context, period valueobject.BillingPeriod, catalog *reconcile.CatalogView) (*reconcile.ChangeReport, error) {
	rows, err := s.highWater.FindByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load high-water marks for %s: %w", period.String(), err)
	}
	kept, excluded := s.exclusions.FilterHighWater(rows)

	entityMappings, err := s.entities.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity mappings: %w", err)
	}
	tierMappings, err := s.tiers.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier mappings: %w", err)
	}

	previous, err := s.highWater.DistinctEntityIDs(ctx, period.Previous())
	if err != nil {
		return nil, fmt.Errorf("failed to load previous period entities: %w", err)
	}
	previous = s.exclusions.FilterEntityIDs(previous)

	report := reconcile.DetectChanges(reconcile.DetectorInput{
		Period:         period,
		HighWater:      kept,
		EntityMappings: entityMappings,
		TierMappings:   tierMappings,
		Catalog:        catalog,
		PreviousBilled: previous,
	})

	s.logger.Info("Change detection complete",
		zap.String("period", period.String()),
		zap.Int("entities_observed", len(report.Entities)),
		zap.Int("entities_new", report.CountEntities(reconcile.BucketNew)),
		zap.Int("entities_invalid", report.CountEntities(reconcile.BucketInvalid)),
		zap.Int("entities_reappeared", report.CountEntities(reconcile.BucketReappeared)),
		zap.Int("entities_missing", len(report.MissingEntities)),
		zap.Int("tiers_observed", len(report.Tiers)),
		zap.Int("tiers_new", report.CountTiers(reconcile.BucketNew)),
		zap.Int("tiers_invalid", report.CountTiers(reconcile.BucketInvalid)),
		zap.Int("tiers_reappeared", report.CountTiers(reconcile.BucketReappeared)),
		zap.Int("high_water_excluded", excluded))
	return report, nil
}

// Resolve walks the report and applies the strategy's decisions.
//
// Every finding that needs a decision produces at least one audit
// entry: invalid mappings are recorded as invalidated (policy) whether
// or not they get fixed, choices and skips are recorded under the
// given decider, and missing entities are recorded as missing (policy).
// Store failures abort the phase; a run that cannot write its audit
// trail must not keep mutating mappings.
func (s *Service) Resolve(ctx context.Context, report *reconcile.ChangeReport, catalog *reconcile.CatalogView, strategy reconcile.ResolutionStrategy, decider mapping.DecidedBy) (*Result, error) {
	result := &Result{}

	for _, finding := range report.Entities {
		if !finding.Bucket.NeedsResolution() {
			continue
		}
		if err := s.resolveEntity(ctx, finding, catalog, strategy, decider, result); err != nil {
			return nil, err
		}
	}

	for _, finding := range report.Tiers {
		if !finding.Bucket.NeedsResolution() {
			continue
		}
		if err := s.resolveTier(ctx, finding, catalog, strategy, decider, result); err != nil {
			return nil, err
		}
	}

	for _, entityID := range report.MissingEntities {
		detail := fmt.Sprintf("billed in %s, no usage in %s", report.Period.Previous().String(), report.Period.String())
		if err := s.appendLog(ctx, entityID, mapping.SubjectKindEntity, mapping.ChangeKindMissing, mapping.DecidedByPolicy, detail); err != nil {
			return nil, err
		}
		s.logger.Warn("Previously billed entity produced no usage",
			zap.String("entity_id", entityID),
			zap.String("period", report.Period.String()))
	}

	s.logger.Info("Resolution complete",
		zap.String("period", report.Period.String()),
		zap.String("decided_by", decider.String()),
		zap.Int("entities_resolved", result.ResolvedEntities),
		zap.Int("entities_skipped", result.SkippedEntities),
		zap.Int("tiers_resolved", result.ResolvedTiers),
		zap.Int("tiers_skipped", result.SkippedTiers))
	return result, nil
}

func (s *Service) resolveEntity(ctx context.Context, finding reconcile.EntityFinding, catalog *reconcile.CatalogView, strategy reconcile.ResolutionStrategy, decider mapping.DecidedBy, result *Result) error {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.entity",
		telemetry.WithAttribute(telemetry.SpanAttrEntityID, finding.EntityID),
		telemetry.WithAttribute("finding.bucket", finding.Bucket.String()))
	defer span.End()

	if finding.Bucket == reconcile.BucketInvalid {
		detail := fmt.Sprintf("customer %s (%s) no longer in billing catalog",
			finding.Mapping.CustomerID, finding.Mapping.CustomerName)
		if err := s.appendLog(ctx, finding.EntityID, mapping.SubjectKindEntity, mapping.ChangeKindInvalidated, mapping.DecidedByPolicy, detail); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	decision, err := strategy.ResolveEntity(ctx, finding, catalog.Customers())
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to resolve entity %s: %w", finding.EntityID, err)
	}

	if decision.Skip {
		result.SkippedEntities++
		result.UnresolvedEntities = append(result.UnresolvedEntities, finding.EntityID)
		s.logger.Info("Entity left unresolved",
			zap.String("entity_id", finding.EntityID),
			zap.String("bucket", finding.Bucket.String()))
		// The invalidated entry already on the log is this run's audit
		// fact for an unfixed invalid mapping.
		if finding.Bucket == reconcile.BucketInvalid {
			return nil
		}
		detail := "observed with usage, left unresolved"
		if finding.Bucket == reconcile.BucketReappeared {
			detail = "usage reappeared for inactive mapping, left inactive"
		}
		return s.appendLog(ctx, finding.EntityID, mapping.SubjectKindEntity, mapping.ChangeKindNew, decider, detail)
	}

	row := finding.Mapping
	if row == nil {
		row, err = mapping.NewEntityMapping(finding.EntityID)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to create mapping for entity %s: %w", finding.EntityID, err)
		}
	}

	changeKind := mapping.ChangeKindNew
	detail := fmt.Sprintf("mapped to customer %s (%s)", decision.Customer.ID, decision.Customer.Name)
	switch finding.Bucket {
	case reconcile.BucketInvalid:
		changeKind = mapping.ChangeKindRemapped
		detail = fmt.Sprintf("remapped to customer %s (%s)", decision.Customer.ID, decision.Customer.Name)
	case reconcile.BucketReappeared:
		changeKind = mapping.ChangeKindRemapped
		detail = fmt.Sprintf("remapped to customer %s (%s)", decision.Customer.ID, decision.Customer.Name)
		if row.CustomerID == decision.Customer.ID {
			detail = fmt.Sprintf("reactivated with customer %s (%s)", decision.Customer.ID, decision.Customer.Name)
		}
	}

	if finding.Bucket == reconcile.BucketReappeared && row.CustomerID == decision.Customer.ID {
		err = row.Reactivate()
	} else {
		err = row.Resolve(decision.Customer.ID, decision.Customer.Name)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to bind entity %s to customer %s: %w", finding.EntityID, decision.Customer.ID, err)
	}

	if err := s.entities.Upsert(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to store mapping for entity %s: %w", finding.EntityID, err)
	}
	if err := s.appendLog(ctx, finding.EntityID, mapping.SubjectKindEntity, changeKind, decider, detail); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	result.ResolvedEntities++
	s.logger.Info("Entity mapping resolved",
		zap.String("entity_id", finding.EntityID),
		zap.String("bucket", finding.Bucket.String()),
		zap.String("customer_id", decision.Customer.ID),
		zap.String("decided_by", decider.String()))
	telemetry.SetOK(span)
	return nil
}

func (s *Service) resolveTier(ctx context.Context, finding reconcile.TierFinding, catalog *reconcile.CatalogView, strategy reconcile.ResolutionStrategy, decider mapping.DecidedBy, result *Result) error {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.tier",
		telemetry.WithAttribute(telemetry.SpanAttrTierID, finding.TierID),
		telemetry.WithAttribute("finding.bucket", finding.Bucket.String()))
	defer span.End()

	if finding.Bucket == reconcile.BucketInvalid {
		detail := fmt.Sprintf("catalog item %s (%s) no longer in billing catalog",
			finding.Mapping.CatalogItemID, finding.Mapping.CatalogItemName)
		if err := s.appendLog(ctx, finding.TierID, mapping.SubjectKindTier, mapping.ChangeKindInvalidated, mapping.DecidedByPolicy, detail); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	decision, err := strategy.ResolveTier(ctx, finding, catalog.Items())
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to resolve tier %s: %w", finding.TierID, err)
	}

	if decision.Skip {
		result.SkippedTiers++
		result.UnresolvedTiers = append(result.UnresolvedTiers, finding.TierID)
		s.logger.Info("Tier left unresolved",
			zap.String("tier_id", finding.TierID),
			zap.String("bucket", finding.Bucket.String()))
		if finding.Bucket == reconcile.BucketInvalid {
			return nil
		}
		detail := "observed with usage, left unresolved"
		if finding.Bucket == reconcile.BucketReappeared {
			detail = "usage reappeared for inactive mapping, left inactive"
		}
		return s.appendLog(ctx, finding.TierID, mapping.SubjectKindTier, mapping.ChangeKindNew, decider, detail)
	}

	row := finding.Mapping
	if row == nil {
		row, err = mapping.NewTierMapping(finding.TierID)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to create mapping for tier %s: %w", finding.TierID, err)
		}
	}

	changeKind := mapping.ChangeKindNew
	verb := "mapped"
	switch finding.Bucket {
	case reconcile.BucketInvalid:
		changeKind = mapping.ChangeKindRemapped
		verb = "remapped"
	case reconcile.BucketReappeared:
		changeKind = mapping.ChangeKindRemapped
		verb = "remapped"
		if row.CatalogItemID == decision.Item.ID {
			verb = "reactivated with"
		}
	}
	detail := fmt.Sprintf("%s item %s (%s) at %s, %s pricing",
		verb, decision.Item.ID, decision.Item.Name, decision.Item.UnitPrice.String(), s.defaultPolicy.String())

	if finding.Bucket == reconcile.BucketReappeared && row.CatalogItemID == decision.Item.ID {
		err = row.Reactivate()
	} else {
		err = row.Resolve(decision.Item.ID, decision.Item.Name, decision.Item.UnitPrice, s.defaultPolicy)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to bind tier %s to item %s: %w", finding.TierID, decision.Item.ID, err)
	}

	if err := s.tiers.Upsert(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to store mapping for tier %s: %w", finding.TierID, err)
	}
	if err := s.appendLog(ctx, finding.TierID, mapping.SubjectKindTier, changeKind, decider, detail); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	result.ResolvedTiers++
	s.logger.Info("Tier mapping resolved",
		zap.String("tier_id", finding.TierID),
		zap.String("bucket", finding.Bucket.String()),
		zap.String("item_id", decision.Item.ID),
		zap.String("pricing_policy", s.defaultPolicy.String()),
		zap.String("decided_by", decider.String()))
	telemetry.SetOK(span)
	return nil
}

func (s *Service) appendLog(ctx context.Context, subjectID string, subjectKind mapping.SubjectKind, changeKind mapping.ChangeKind, decidedBy mapping.DecidedBy, detail string) error {
	entry, err := mapping.NewChangeLogEntry(subjectID, subjectKind, changeKind, decidedBy, detail)
	if err != nil {
		return fmt.Errorf("failed to build audit entry for %s: %w", subjectID, err)
	}
	if err := s.changeLog.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry for %s: %w", subjectID, err)
	}
	return nil
}
