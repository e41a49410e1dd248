// Package snapshot provides the usage snapshot sources: a local
// directory and an S3-compatible object store.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/config"
)

// NewSource builds the snapshot source selected by configuration
func NewSource(ctx context.Context, cfg *config.SnapshotsConfig, logger *zap.Logger) (usage.SnapshotSource, error) {
	if cfg == nil {
		return nil, errors.New("snapshots configuration is required")
	}
	switch cfg.Source {
	case "", "local":
		return NewLocalSource(cfg.Dir, logger)
	case "s3":
		return NewS3Source(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown snapshot source %q", cfg.Source)
	}
}

// snapshotDatePattern matches the date conventionally embedded in
// snapshot file names: YYYY-MM-DD or YYYY_MM_DD (usage_2024_08_05.txt).
var snapshotDatePattern = regexp.MustCompile(`(\d{4})[-_](\d{2})[-_](\d{2})`)

// dateFromName extracts the observation date from a snapshot name.
// Returns false when the name carries no valid date.
func dateFromName(name string) (time.Time, bool) {
	m := snapshotDatePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range components, so a round-trip
	// mismatch means the name carried something like month 13.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// sortSnapshots orders snapshots by observation date, then name, so a
// period's reports are ingested oldest first and reruns see the same order
func sortSnapshots(snapshots []usage.SnapshotInfo) {
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].ObservedAt.Equal(snapshots[j].ObservedAt) {
			return snapshots[i].ObservedAt.Before(snapshots[j].ObservedAt)
		}
		return snapshots[i].Name < snapshots[j].Name
	})
}
