package usage

import (
	"fmt"
	"path"
	"strings"
)

// ExclusionFilter drops entities and tiers matching configured glob
// patterns before aggregation results reach mapping and invoicing.
// Exclusion wins over any existing mapping: an excluded entity is never
// reported as a change and never billed, mapped or not.
//
// Patterns use path.Match syntax (`*`, `?`, character classes) and match
// case-insensitively. Patterns are validated at construction; an invalid
// pattern is a configuration error, not a runtime skip.
type ExclusionFilter struct {
	entityPatterns []string
	tierPatterns   []string
}

// NewExclusionFilter builds a filter from entity and tier glob patterns
func NewExclusionFilter(entityPatterns, tierPatterns []string) (*ExclusionFilter, error) {
	f := &ExclusionFilter{
		entityPatterns: make([]string, 0, len(entityPatterns)),
		tierPatterns:   make([]string, 0, len(tierPatterns)),
	}

	for _, p := range entityPatterns {
		lowered := strings.ToLower(strings.TrimSpace(p))
		if lowered == "" {
			continue
		}
		if _, err := path.Match(lowered, "probe"); err != nil {
			return nil, fmt.Errorf("invalid entity exclusion pattern %q: %w", p, err)
		}
		f.entityPatterns = append(f.entityPatterns, lowered)
	}

	for _, p := range tierPatterns {
		lowered := strings.ToLower(strings.TrimSpace(p))
		if lowered == "" {
			continue
		}
		if _, err := path.Match(lowered, "probe"); err != nil {
			return nil, fmt.Errorf("invalid tier exclusion pattern %q: %w", p, err)
		}
		f.tierPatterns = append(f.tierPatterns, lowered)
	}

	return f, nil
}

// IsEmpty returns true when no patterns are configured
func (f *ExclusionFilter) IsEmpty() bool {
	return len(f.entityPatterns) == 0 && len(f.tierPatterns) == 0
}

// ExcludesEntity reports whether the entity ID matches any entity pattern
func (f *ExclusionFilter) ExcludesEntity(entityID string) bool {
	return matchAny(f.entityPatterns, entityID)
}

// ExcludesTier reports whether the tier ID matches any tier pattern
func (f *ExclusionFilter) ExcludesTier(tierID string) bool {
	return matchAny(f.tierPatterns, tierID)
}

// Excludes reports whether either side of a (entity, tier) pair is excluded
func (f *ExclusionFilter) Excludes(entityID, tierID string) bool {
	return f.ExcludesEntity(entityID) || f.ExcludesTier(tierID)
}

// FilterRecords returns the records whose entity and tier both survive the
// filter, plus the number excluded.
func (f *ExclusionFilter) FilterRecords(records []*UsageRecord) ([]*UsageRecord, int) {
	if f.IsEmpty() {
		return records, 0
	}
	kept := make([]*UsageRecord, 0, len(records))
	for _, r := range records {
		if f.Excludes(r.EntityID, r.TierID) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// FilterHighWater returns the high-water rows whose entity and tier both
// survive the filter, plus the number excluded.
func (f *ExclusionFilter) FilterHighWater(rows []*MonthlyHighWater) ([]*MonthlyHighWater, int) {
	if f.IsEmpty() {
		return rows, 0
	}
	kept := make([]*MonthlyHighWater, 0, len(rows))
	for _, row := range rows {
		if f.Excludes(row.EntityID, row.TierID) {
			continue
		}
		kept = append(kept, row)
	}
	return kept, len(rows) - len(kept)
}

// FilterEntityIDs returns the entity IDs not excluded by the filter
func (f *ExclusionFilter) FilterEntityIDs(ids []string) []string {
	if len(f.entityPatterns) == 0 {
		return ids
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if f.ExcludesEntity(id) {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}

func matchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return false
	}
	lowered := strings.ToLower(value)
	for _, p := range patterns {
		if ok, _ := path.Match(p, lowered); ok {
			return true
		}
	}
	return false
}
