package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/reckon/engine/internal/domain/shared"
)

const (
	maxEntityIDLength = 253
	maxLabelLength    = 63
	maxTierIDLength   = 128
)

// UsageRecord is an immutable observation of one (entity, tier) count taken
// from a single usage snapshot. Corrections are made with new snapshots,
// never by editing records, so the ingested history stays a faithful audit
// trail of what the provider reported.
type UsageRecord struct {
	shared.BaseEntity
	EntityID     string    // DNS-style identifier of the reporting entity
	TierID       string    // service tier the count applies to
	Count        int64     // reported concurrent usage, never negative
	ObservedAt   time.Time // snapshot date, normalized to midnight UTC
	SnapshotName string    // name of the snapshot the record came from
}

// NewUsageRecord creates a usage record with validation
func NewUsageRecord(entityID, tierID string, count int64, observedAt time.Time, snapshotName string) (*UsageRecord, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, shared.NewDomainError("INVALID_ENTITY_ID", err.Error())
	}
	if err := ValidateTierID(tierID); err != nil {
		return nil, shared.NewDomainError("INVALID_TIER_ID", err.Error())
	}
	if count < 0 {
		return nil, shared.NewDomainError("INVALID_COUNT", "Count cannot be negative")
	}

	return &UsageRecord{
		BaseEntity:   shared.NewBaseEntity(),
		EntityID:     strings.ToLower(entityID),
		TierID:       tierID,
		Count:        count,
		ObservedAt:   DateOf(observedAt),
		SnapshotName: snapshotName,
	}, nil
}

// DateOf truncates an instant to its UTC calendar date.
// Snapshot observations are daily; intra-day time carries no meaning.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ValidateEntityID checks that an entity identifier is a well-formed
// DNS-style name: dot-separated labels of letters, digits and hyphens,
// labels up to 63 characters with no edge hyphens, the whole name up to
// 253 characters, and a final label of at least two letters.
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}
	if len(id) > maxEntityIDLength {
		return fmt.Errorf("entity ID exceeds %d characters", maxEntityIDLength)
	}

	labels := strings.Split(id, ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("entity ID %q contains an empty label", id)
		}
		if len(label) > maxLabelLength {
			return fmt.Errorf("entity ID %q has a label longer than %d characters", id, maxLabelLength)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("entity ID %q has a label with a leading or trailing hyphen", id)
		}
		for _, r := range label {
			if !isLabelRune(r) {
				return fmt.Errorf("entity ID %q contains invalid character %q", id, r)
			}
		}
	}

	last := labels[len(labels)-1]
	if len(last) < 2 || !isAlphaLabel(last) {
		return fmt.Errorf("entity ID %q must end in a label of at least two letters", id)
	}
	return nil
}

// ValidateTierID checks that a tier identifier is a non-empty token of
// letters, digits, dots, underscores and hyphens.
func ValidateTierID(id string) error {
	if id == "" {
		return fmt.Errorf("tier ID cannot be empty")
	}
	if len(id) > maxTierIDLength {
		return fmt.Errorf("tier ID exceeds %d characters", maxTierIDLength)
	}
	for _, r := range id {
		if !isLabelRune(r) && r != '.' && r != '_' {
			return fmt.Errorf("tier ID %q contains invalid character %q", id, r)
		}
	}
	return nil
}

func isLabelRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
}

func isAlphaLabel(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}
