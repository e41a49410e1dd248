package usage

import (
	"context"
	"io"
	"time"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// SnapshotInfo describes one discovered usage snapshot report
type SnapshotInfo struct {
	// Name is the snapshot's base file name, unique within the source
	Name string

	// ObservedAt is the observation date the snapshot's records carry:
	// the date embedded in the file name, or the file's modification
	// time when the name has none.
	ObservedAt time.Time

	// Size is the snapshot's size in bytes
	Size int64
}

// SnapshotSource lists and opens usage snapshot reports. Implementations
// cover a local directory and an S3-compatible object store.
type SnapshotSource interface {
	// List returns the snapshots observed within the billing period,
	// sorted by observation date then name
	List(ctx context.Context, period valueobject.BillingPeriod) ([]SnapshotInfo, error)

	// Open opens one snapshot by name for parsing. The caller closes it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}
