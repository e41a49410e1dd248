// Package ingest pulls usage snapshots from the configured source,
// parses them into usage records, and rolls the records up into
// monthly high-water marks.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
)

// Result summarizes one ingest phase
type Result struct {
	// SnapshotsParsed is the number of snapshot files read end to end
	SnapshotsParsed int `json:"snapshots_parsed"`

	// RecordsIngested is the number of usage records stored
	RecordsIngested int `json:"records_ingested"`

	// SkippedLines counts malformed snapshot lines that were logged
	// and dropped rather than failing the run
	SkippedLines int `json:"skipped_lines"`

	// ExcludedRecords counts records dropped by the exclusion filter
	// before aggregation
	ExcludedRecords int `json:"excluded_records"`

	// HighWaterRows is the number of (entity, tier) peaks stored for
	// the period after aggregation
	HighWaterRows int `json:"high_water_rows"`
}

// Service ingests usage snapshots and maintains the monthly high-water
// table for a billing period.
type Service struct {
	source     usage.SnapshotSource
	records    usage.UsageRecordRepository
	highWater  usage.MonthlyHighWaterRepository
	exclusions *usage.ExclusionFilter
	logger     *zap.Logger
}

// NewService creates a new ingest service. A nil exclusion filter
// means nothing is excluded.
func NewService(
	source usage.SnapshotSource,
	records usage.UsageRecordRepository,
	highWater usage.MonthlyHighWaterRepository,
	exclusions *usage.ExclusionFilter,
	logger *zap.Logger,
) *Service {
	if exclusions == nil {
		exclusions, _ = usage.NewExclusionFilter(nil, nil)
	}
	return &Service{
		source:     source,
		records:    records,
		highWater:  highWater,
		exclusions: exclusions,
		logger:     logger,
	}
}

// Run ingests the period's snapshots and rebuilds its high-water marks.
// With skipFetch set the snapshot source is not consulted and the
// records already in the store are re-aggregated as they are.
//
// Snapshot content problems (malformed lines, out-of-period records)
// are logged and skipped. Infrastructure problems (source unreachable,
// store writes failing) fail the phase: billing from a partial ingest
// would silently under-bill.
func (s *Service) Run(ctx context.Context, period valueobject.BillingPeriod, skipFetch bool) (*Result, error) {
	result := &Result{}

	if skipFetch {
		s.logger.Info("Skipping snapshot fetch, reusing stored usage records",
			zap.String("period", period.String()))
	} else {
		if err := s.ingestSnapshots(ctx, period, result); err != nil {
			return nil, err
		}
	}

	if err := s.aggregate(ctx, period, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ingestSnapshots(ctx context.Context, period valueobject.BillingPeriod, result *Result) error {
	snapshots, err := s.source.List(ctx, period)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		s.logger.Warn("No usage snapshots found for period",
			zap.String("period", period.String()))
		return nil
	}

	for _, info := range snapshots {
		parsed, err := s.ingestOne(ctx, info)
		if err != nil {
			return err
		}
		result.SnapshotsParsed++
		result.RecordsIngested += parsed.Stats.Records
		result.SkippedLines += parsed.Stats.SkippedLines
	}

	s.logger.Info("Snapshot ingest complete",
		zap.String("period", period.String()),
		zap.Int("snapshots", result.SnapshotsParsed),
		zap.Int("records", result.RecordsIngested),
		zap.Int("skipped_lines", result.SkippedLines))
	return nil
}

func (s *Service) ingestOne(ctx context.Context, info usage.SnapshotInfo) (*usage.ParseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.snapshot",
		telemetry.WithAttribute(telemetry.SpanAttrSnapshot, info.Name))
	defer span.End()

	reader, err := s.source.Open(ctx, info.Name)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to open snapshot %s: %w", info.Name, err)
	}
	defer reader.Close()

	parsed, err := usage.ParseSnapshot(reader, info.Name, info.ObservedAt)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", info.Name, err)
	}

	for _, warning := range parsed.Warnings {
		s.logger.Warn("Skipped malformed snapshot line",
			zap.String("snapshot", info.Name),
			zap.Int("line", warning.Line),
			zap.String("content", warning.Content),
			zap.String("reason", warning.Reason))
	}

	if len(parsed.Records) > 0 {
		if err := s.records.SaveBatch(ctx, parsed.Records); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to store records from snapshot %s: %w", info.Name, err)
		}
	}

	s.logger.Info("Snapshot ingested",
		zap.String("snapshot", info.Name),
		zap.Time("observed_at", info.ObservedAt),
		zap.Int("entities", parsed.Stats.Entities),
		zap.Int("records", parsed.Stats.Records),
		zap.Int("skipped_lines", parsed.Stats.SkippedLines))
	telemetry.SetAttributes(span,
		"snapshot.records", parsed.Stats.Records,
		"snapshot.skipped_lines", parsed.Stats.SkippedLines)
	telemetry.SetOK(span)
	return parsed, nil
}

// aggregate rebuilds the period's high-water marks from the stored
// records. The rebuild replaces the period's rows wholesale so late
// snapshots and reruns converge on the same peaks.
func (s *Service) aggregate(ctx context.Context, period valueobject.BillingPeriod, result *Result) error {
	records, err := s.records.FindByPeriod(ctx, period)
	if err != nil {
		return fmt.Errorf("failed to load usage records for %s: %w", period.String(), err)
	}

	kept, excluded := s.exclusions.FilterRecords(records)
	if excluded > 0 {
		s.logger.Info("Excluded usage records before aggregation",
			zap.String("period", period.String()),
			zap.Int("excluded", excluded))
	}

	rows, warnings := usage.AggregateHighWater(kept, period)
	for _, warning := range warnings {
		s.logger.Warn("Dropped usage record during aggregation",
			zap.String("entity_id", warning.EntityID),
			zap.String("tier_id", warning.TierID),
			zap.String("reason", warning.Reason),
			zap.String("period", period.String()))
	}

	if err := s.highWater.ReplaceForPeriod(ctx, period, rows); err != nil {
		return fmt.Errorf("failed to store high-water marks for %s: %w", period.String(), err)
	}

	result.ExcludedRecords = excluded
	result.HighWaterRows = len(rows)
	s.logger.Info("High-water aggregation complete",
		zap.String("period", period.String()),
		zap.Int("records", len(kept)),
		zap.Int("excluded", excluded),
		zap.Int("high_water_rows", len(rows)))
	return nil
}
