package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	infraconfig "github.com/reckon/engine/internal/infrastructure/config"
)

// S3Source reads usage snapshots from an S3-compatible object store.
// It works against AWS S3 and anything speaking its API (MinIO, RustFS)
// through a custom endpoint and path-style addressing.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

var _ usage.SnapshotSource = (*S3Source)(nil)

// NewS3Source creates a snapshot source over an S3-compatible bucket
func NewS3Source(ctx context.Context, cfg *infraconfig.SnapshotsConfig, logger *zap.Logger) (*S3Source, error) {
	if cfg == nil {
		return nil, errors.New("snapshots configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	// Static credentials when configured; otherwise the SDK's default
	// chain (env, shared config, instance role) applies.
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.Named("snapshot"),
	}, nil
}

// normalizeEndpoint gives a bare host:port endpoint a protocol. An empty
// endpoint stays empty, which leaves the SDK pointed at AWS itself.
func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// List returns the bucket's snapshot objects observed within the period,
// sorted by observation date then name. The date comes from the object's
// base name and falls back to its last-modified time. Objects nested
// under further pseudo-directories are skipped.
func (s *S3Source) List(ctx context.Context, period valueobject.BillingPeriod) ([]usage.SnapshotInfo, error) {
	var snapshots []usage.SnapshotInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list snapshots in bucket %s: %w", s.bucket, err)
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}

			observedAt, ok := dateFromName(name)
			if !ok {
				if obj.LastModified == nil {
					s.logger.Warn("Snapshot has no date in name and no modification time, skipping",
						zap.String("snapshot", name))
					continue
				}
				observedAt = obj.LastModified.UTC().Truncate(24 * time.Hour)
				s.logger.Warn("Snapshot name carries no date, using modification time",
					zap.String("snapshot", name),
					zap.Time("observed_at", observedAt))
			}
			if !period.Contains(observedAt) {
				continue
			}

			snapshots = append(snapshots, usage.SnapshotInfo{
				Name:       name,
				ObservedAt: observedAt,
				Size:       aws.ToInt64(obj.Size),
			})
		}
	}

	sortSnapshots(snapshots)
	return snapshots, nil
}

// Open streams one snapshot object by name
func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", name, err)
	}
	return out.Body, nil
}
