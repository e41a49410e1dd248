package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

// LocalSource reads usage snapshots from a directory on disk
type LocalSource struct {
	dir    string
	logger *zap.Logger
}

var _ usage.SnapshotSource = (*LocalSource)(nil)

// NewLocalSource creates a snapshot source over a local directory
func NewLocalSource(dir string, logger *zap.Logger) (*LocalSource, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSource{dir: dir, logger: logger.Named("snapshot")}, nil
}

// List returns the directory's snapshot files observed within the period,
// sorted by observation date then name. The date comes from the file name
// and falls back to the modification time for names without one. Hidden
// files and subdirectories are skipped.
func (s *LocalSource) List(ctx context.Context, period valueobject.BillingPeriod) ([]usage.SnapshotInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory %s: %w", s.dir, err)
	}

	var snapshots []usage.SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat snapshot %s: %w", entry.Name(), err)
		}

		observedAt, ok := dateFromName(entry.Name())
		if !ok {
			observedAt = info.ModTime().UTC().Truncate(24 * time.Hour)
			s.logger.Warn("Snapshot name carries no date, using modification time",
				zap.String("snapshot", entry.Name()),
				zap.Time("observed_at", observedAt))
		}
		if !period.Contains(observedAt) {
			continue
		}

		snapshots = append(snapshots, usage.SnapshotInfo{
			Name:       entry.Name(),
			ObservedAt: observedAt,
			Size:       info.Size(),
		})
	}

	sortSnapshots(snapshots)
	return snapshots, nil
}

// Open opens one snapshot by name. Names are base file names only;
// anything resolving outside the source directory is rejected.
func (s *LocalSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", name, err)
	}
	return f, nil
}
