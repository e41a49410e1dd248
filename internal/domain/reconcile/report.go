package reconcile

import (
	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// Bucket classifies one observed subject relative to the mapping tables
// and the billing catalog. Every observed subject lands in exactly one
// bucket.
type Bucket string

const (
	// BucketMapped means the subject has an active mapping whose target
	// exists in the catalog; nothing to do.
	BucketMapped Bucket = "mapped"

	// BucketNew means the subject has no mapping, or a mapping whose
	// target was never set.
	BucketNew Bucket = "new"

	// BucketInvalid means the subject's mapping points at a target the
	// catalog no longer contains.
	BucketInvalid Bucket = "invalid"

	// BucketReappeared means the subject's mapping was deactivated but
	// usage for the subject has shown up again.
	BucketReappeared Bucket = "reappeared"
)

// String returns the string representation of Bucket
func (b Bucket) String() string {
	return string(b)
}

// NeedsResolution reports whether subjects in this bucket require an
// operator or policy decision before they can be billed
func (b Bucket) NeedsResolution() bool {
	return b != BucketMapped
}

// EntityFinding is the detector's verdict for one observed entity
type EntityFinding struct {
	EntityID string
	Bucket   Bucket
	// Mapping is the existing row, nil when the entity has never been seen
	Mapping *mapping.EntityMapping
}

// TierFinding is the detector's verdict for one observed tier
type TierFinding struct {
	TierID string
	Bucket Bucket
	// Mapping is the existing row, nil when the tier has never been seen
	Mapping *mapping.TierMapping
}

// ChangeReport is the full outcome of change detection for one period.
// It is a pure description: producing it mutates nothing.
type ChangeReport struct {
	Period valueobject.BillingPeriod

	// Entities holds one finding per distinct observed entity, sorted by ID
	Entities []EntityFinding

	// Tiers holds one finding per distinct observed tier, sorted by ID
	Tiers []TierFinding

	// MissingEntities lists entities with an active mapping that were
	// billed in the preceding period but produced no usage in this one.
	// Reported for operator review, never auto-deactivated.
	MissingEntities []string
}

// EntitiesIn returns the entity findings in a bucket, preserving order
func (r *ChangeReport) EntitiesIn(bucket Bucket) []EntityFinding {
	var out []EntityFinding
	for _, f := range r.Entities {
		if f.Bucket == bucket {
			out = append(out, f)
		}
	}
	return out
}

// TiersIn returns the tier findings in a bucket, preserving order
func (r *ChangeReport) TiersIn(bucket Bucket) []TierFinding {
	var out []TierFinding
	for _, f := range r.Tiers {
		if f.Bucket == bucket {
			out = append(out, f)
		}
	}
	return out
}

// CountEntities returns how many entity findings fall in a bucket
func (r *ChangeReport) CountEntities(bucket Bucket) int {
	n := 0
	for _, f := range r.Entities {
		if f.Bucket == bucket {
			n++
		}
	}
	return n
}

// CountTiers returns how many tier findings fall in a bucket
func (r *ChangeReport) CountTiers(bucket Bucket) int {
	n := 0
	for _, f := range r.Tiers {
		if f.Bucket == bucket {
			n++
		}
	}
	return n
}

// NeedsAttention reports whether any finding requires a decision or review
func (r *ChangeReport) NeedsAttention() bool {
	for _, f := range r.Entities {
		if f.Bucket.NeedsResolution() {
			return true
		}
	}
	for _, f := range r.Tiers {
		if f.Bucket.NeedsResolution() {
			return true
		}
	}
	return len(r.MissingEntities) > 0
}
