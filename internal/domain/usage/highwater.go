package usage

import (
	"fmt"
	"sort"
	"time"

	"github.com/reckon/engine/internal/domain/shared"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// MonthlyHighWater is the billable fact for one (entity, tier) pair in one
// billing period: the highest daily count observed across the period's
// snapshots, and the earliest date that peak was reached.
// Rows are derived data, recomputed from usage records on every run.
type MonthlyHighWater struct {
	shared.BaseEntity
	EntityID     string
	TierID       string
	BillingYear  int
	BillingMonth int
	PeakCount    int64
	PeakDate     time.Time
}

// NewMonthlyHighWater creates a high-water row for one pair and period
func NewMonthlyHighWater(entityID, tierID string, period valueobject.BillingPeriod, peakCount int64, peakDate time.Time) *MonthlyHighWater {
	return &MonthlyHighWater{
		BaseEntity:   shared.NewBaseEntity(),
		EntityID:     entityID,
		TierID:       tierID,
		BillingYear:  period.Year(),
		BillingMonth: period.Month(),
		PeakCount:    peakCount,
		PeakDate:     DateOf(peakDate),
	}
}

// Period returns the billing period the row belongs to
func (h *MonthlyHighWater) Period() valueobject.BillingPeriod {
	p, _ := valueobject.NewBillingPeriod(h.BillingYear, h.BillingMonth)
	return p
}

// AggregationWarning describes a record the aggregator rejected
type AggregationWarning struct {
	EntityID string `json:"entity_id"`
	TierID   string `json:"tier_id"`
	Reason   string `json:"reason"`
}

// AggregateHighWater folds a period's usage records into one high-water row
// per distinct (entity, tier) pair.
//
// The fold is order independent: a candidate record replaces the incumbent
// peak only when its count is strictly higher, or equal with an earlier
// observation date. Feeding the same records in any order, or feeding them
// twice, produces identical rows. Records dated outside the period are
// skipped with a warning. The result is sorted by (entity, tier) so repeated
// runs emit identical output.
func AggregateHighWater(records []*UsageRecord, period valueobject.BillingPeriod) ([]*MonthlyHighWater, []AggregationWarning) {
	var warnings []AggregationWarning
	peaks := make(map[string]*MonthlyHighWater)

	for _, record := range records {
		if !period.Contains(record.ObservedAt) {
			warnings = append(warnings, AggregationWarning{
				EntityID: record.EntityID,
				TierID:   record.TierID,
				Reason: fmt.Sprintf("observed %s outside billing period %s",
					record.ObservedAt.Format("2006-01-02"), period),
			})
			continue
		}

		key := record.EntityID + "\x00" + record.TierID
		incumbent, ok := peaks[key]
		if !ok {
			peaks[key] = NewMonthlyHighWater(record.EntityID, record.TierID, period, record.Count, record.ObservedAt)
			continue
		}

		if record.Count > incumbent.PeakCount ||
			(record.Count == incumbent.PeakCount && record.ObservedAt.Before(incumbent.PeakDate)) {
			incumbent.PeakCount = record.Count
			incumbent.PeakDate = record.ObservedAt
		}
	}

	rows := make([]*MonthlyHighWater, 0, len(peaks))
	for _, row := range peaks {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EntityID != rows[j].EntityID {
			return rows[i].EntityID < rows[j].EntityID
		}
		return rows[i].TierID < rows[j].TierID
	})

	return rows, warnings
}

// DistinctEntities returns the sorted distinct entity IDs present in a set
// of high-water rows.
func DistinctEntities(rows []*MonthlyHighWater) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, row := range rows {
		if _, ok := seen[row.EntityID]; !ok {
			seen[row.EntityID] = struct{}{}
			ids = append(ids, row.EntityID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DistinctTiers returns the sorted distinct tier IDs present in a set of
// high-water rows.
func DistinctTiers(rows []*MonthlyHighWater) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, row := range rows {
		if _, ok := seen[row.TierID]; !ok {
			seen[row.TierID] = struct{}{}
			ids = append(ids, row.TierID)
		}
	}
	sort.Strings(ids)
	return ids
}
