package mapping

import (
	"strings"
	"time"

	"github.com/reckon/engine/internal/domain/shared"
)

// SubjectKind identifies what a change log entry is about
type SubjectKind string

const (
	// SubjectKindEntity marks entries about entity mappings
	SubjectKindEntity SubjectKind = "entity"

	// SubjectKindTier marks entries about tier mappings
	SubjectKindTier SubjectKind = "tier"
)

// IsValid returns true if the subject kind is known
func (k SubjectKind) IsValid() bool {
	return k == SubjectKindEntity || k == SubjectKindTier
}

// String returns the string representation of SubjectKind
func (k SubjectKind) String() string {
	return string(k)
}

// ChangeKind classifies what happened to a mapping subject
type ChangeKind string

const (
	// ChangeKindNew records the decision for a subject observed without a
	// billable mapping: a first-time resolution, or a skip that leaves the
	// subject unbilled
	ChangeKindNew ChangeKind = "new"

	// ChangeKindMissing records an entity that was billed last period but
	// produced no usage this period
	ChangeKindMissing ChangeKind = "missing"

	// ChangeKindRemapped records a decision that re-binds an existing
	// mapping: a different target, a fix after invalidation, or a
	// reactivation
	ChangeKindRemapped ChangeKind = "remapped"

	// ChangeKindInvalidated records a mapping whose target vanished from
	// the billing catalog
	ChangeKindInvalidated ChangeKind = "invalidated"
)

// IsValid returns true if the change kind is known
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeKindNew, ChangeKindMissing, ChangeKindRemapped, ChangeKindInvalidated:
		return true
	}
	return false
}

// String returns the string representation of ChangeKind
func (k ChangeKind) String() string {
	return string(k)
}

// DecidedBy identifies who made a reconciliation decision
type DecidedBy string

const (
	// DecidedByOperator marks decisions taken interactively by a human
	DecidedByOperator DecidedBy = "operator"

	// DecidedByPolicy marks decisions the engine took on its own, such as
	// non-interactive skips and automatic invalidation records
	DecidedByPolicy DecidedBy = "policy"
)

// IsValid returns true if the decider is known
func (d DecidedBy) IsValid() bool {
	return d == DecidedByOperator || d == DecidedByPolicy
}

// String returns the string representation of DecidedBy
func (d DecidedBy) String() string {
	return string(d)
}

// ChangeLogEntry is one append-only audit fact about a mapping decision.
// Entries are never updated or deleted; the log is the authoritative
// history of how mappings came to be what they are.
type ChangeLogEntry struct {
	shared.BaseEntity
	SubjectID   string // entity ID or tier ID the entry is about
	SubjectKind SubjectKind
	ChangeKind  ChangeKind
	DecidedBy   DecidedBy
	Detail      string // human-readable context, e.g. the chosen target
	DecidedAt   time.Time
}

// NewChangeLogEntry creates an audit entry with validation
func NewChangeLogEntry(subjectID string, subjectKind SubjectKind, changeKind ChangeKind, decidedBy DecidedBy, detail string) (*ChangeLogEntry, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}
	if !subjectKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_SUBJECT_KIND", "Unknown subject kind: "+subjectKind.String())
	}
	if !changeKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_CHANGE_KIND", "Unknown change kind: "+changeKind.String())
	}
	if !decidedBy.IsValid() {
		return nil, shared.NewDomainError("INVALID_DECIDER", "Unknown decider: "+decidedBy.String())
	}

	return &ChangeLogEntry{
		BaseEntity:  shared.NewBaseEntity(),
		SubjectID:   subjectID,
		SubjectKind: subjectKind,
		ChangeKind:  changeKind,
		DecidedBy:   decidedBy,
		Detail:      detail,
		DecidedAt:   time.Now().UTC(),
	}, nil
}
