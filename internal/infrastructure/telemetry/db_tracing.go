package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reckon/engine/internal/infrastructure/config"
)

type contextKey string

const queryStartTimeKey contextKey = "telemetry.query_start_time"

// DBTracingPlugin instruments GORM with OpenTelemetry spans and flags
// queries that exceed the slow query threshold. Query variables are never
// recorded, only the statement shape.
type DBTracingPlugin struct {
	enabled         bool
	slowQueryThresh time.Duration
	logger          *zap.Logger
}

// NewDBTracingPlugin creates a database tracing plugin from the telemetry
// configuration. The plugin is inert unless both telemetry and database
// tracing are enabled.
func NewDBTracingPlugin(cfg *config.TelemetryConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := false
	thresh := 200 * time.Millisecond
	if cfg != nil {
		enabled = cfg.Enabled && cfg.DBTraceEnabled
		if cfg.DBSlowQueryThresh > 0 {
			thresh = cfg.DBSlowQueryThresh
		}
	}

	return &DBTracingPlugin{
		enabled:         enabled,
		slowQueryThresh: thresh,
		logger:          logger.Named("db_tracing"),
	}
}

// RegisterOtelGorm attaches the otelgorm plugin plus slow query callbacks
// to the GORM instance. It is a no-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	plugin := otelgorm.NewPlugin(
		otelgorm.WithDBName("reckon"),
		otelgorm.WithoutQueryVariables(),
	)
	if err := db.Use(plugin); err != nil {
		return fmt.Errorf("failed to register otelgorm plugin: %w", err)
	}

	if err := p.registerCallbacks(db); err != nil {
		return fmt.Errorf("failed to register tracing callbacks: %w", err)
	}

	p.logger.Info("Database tracing enabled",
		zap.Duration("slow_query_threshold", p.slowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) registerCallbacks(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("telemetry:before_create", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register("telemetry:after_create", p.afterCallback); err != nil {
		return err
	}

	if err := db.Callback().Query().Before("gorm:query").Register("telemetry:before_query", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("telemetry:after_query", p.afterCallback); err != nil {
		return err
	}

	if err := db.Callback().Update().Before("gorm:update").Register("telemetry:before_update", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("telemetry:after_update", p.afterCallback); err != nil {
		return err
	}

	if err := db.Callback().Delete().Before("gorm:delete").Register("telemetry:before_delete", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("telemetry:after_delete", p.afterCallback); err != nil {
		return err
	}

	if err := db.Callback().Row().Before("gorm:row").Register("telemetry:before_row", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register("telemetry:after_row", p.afterCallback); err != nil {
		return err
	}

	if err := db.Callback().Raw().Before("gorm:raw").Register("telemetry:before_raw", p.beforeCallback); err != nil {
		return err
	}
	if err := db.Callback().Raw().After("gorm:raw").Register("telemetry:after_raw", p.afterCallback); err != nil {
		return err
	}

	return nil
}

// beforeCallback stamps the query start time into the statement context.
func (p *DBTracingPlugin) beforeCallback(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}
	db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
}

// afterCallback annotates the active span with row counts, marks error
// statuses, and flags slow queries.
func (p *DBTracingPlugin) afterCallback(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}

	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Int64("db.rows_affected", db.RowsAffected),
		attribute.String("db.sql.table", db.Statement.Table),
	)

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
	}

	startTime, ok := db.Statement.Context.Value(queryStartTimeKey).(time.Time)
	if !ok {
		return
	}

	elapsed := time.Since(startTime)
	if elapsed > p.slowQueryThresh {
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.String("db.sql.table", db.Statement.Table),
			attribute.Int64("db.elapsed_ms", elapsed.Milliseconds()),
			attribute.Int64("db.threshold_ms", p.slowQueryThresh.Milliseconds()),
		))
		p.logger.Warn("Slow database query",
			zap.String("table", db.Statement.Table),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", p.slowQueryThresh),
		)
	}
}
