package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/application/ingest"
	"github.com/reckon/engine/internal/application/invoicing"
	"github.com/reckon/engine/internal/application/pipeline"
	"github.com/reckon/engine/internal/application/reconciliation"
	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/billing"
	"github.com/reckon/engine/internal/infrastructure/config"
	"github.com/reckon/engine/internal/infrastructure/logger"
	"github.com/reckon/engine/internal/infrastructure/persistence"
	"github.com/reckon/engine/internal/infrastructure/snapshot"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
	"github.com/reckon/engine/internal/interfaces/cli"
)

func main() {
	os.Exit(execute())
}

// execute is the real main; it returns the process exit code so deferred
// cleanup runs before the process dies.
func execute() int {
	var (
		year           int
		month          int
		configPath     string
		logLevel       string
		skipFetch      bool
		skipReconcile  bool
		skipInvoices   bool
		nonInteractive bool
		draft          bool
		jsonSummary    bool
	)

	flag.IntVar(&year, "year", 0, "Billing year (default: previous calendar month)")
	flag.IntVar(&month, "month", 0, "Billing month 1-12 (default: previous calendar month)")
	flag.StringVar(&configPath, "config", "", "Path to config file (default: ./config.toml)")
	flag.StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")
	flag.BoolVar(&skipFetch, "skip-fetch", false, "Reuse stored usage records instead of reading snapshots")
	flag.BoolVar(&skipReconcile, "skip-reconcile", false, "Skip change detection and resolution")
	flag.BoolVar(&skipInvoices, "skip-invoices", false, "Skip invoice generation")
	flag.BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; unresolved items are skipped and reported")
	flag.BoolVar(&draft, "draft", false, "Record invoices locally without committing them externally")
	flag.BoolVar(&jsonSummary, "json-summary", false, "Print the run summary as JSON")
	flag.Usage = printUsage
	flag.Parse()

	command := "run"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "run", "reconcile", "preview", "status":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		printUsage()
		return 2
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = log.Sync()
	}()

	period, err := resolvePeriod(year, month)
	if err != nil {
		log.Error("Invalid billing period", zap.Error(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.NewTracerProvider(ctx, &cfg.Telemetry, log)
	if err != nil {
		log.Error("Failed to initialize telemetry", zap.Error(err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Database close failed", zap.Error(err))
		}
	}()

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.NewDBTracingPlugin(&cfg.Telemetry, log).RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Database tracing registration failed", zap.Error(err))
		}
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			log.Error("Schema migration failed", zap.Error(err))
			return 1
		}
	}

	exclusions, err := usage.NewExclusionFilter(cfg.Exclude.Entities, cfg.Exclude.Tiers)
	if err != nil {
		log.Error("Invalid exclusion patterns", zap.Error(err))
		return 1
	}

	records := persistence.NewUsageRecordRepository(db.DB)
	highWater := persistence.NewMonthlyHighWaterRepository(db.DB)
	entities := persistence.NewEntityMappingRepository(db.DB)
	tiers := persistence.NewTierMappingRepository(db.DB)
	changeLog := persistence.NewChangeLogRepository(db.DB)
	invoices := persistence.NewInvoiceRepository(db.DB)

	writer := cli.NewWriter(os.Stdout)

	if command == "status" {
		// Status reads the local store only; no billing credentials and no
		// snapshot source are needed.
		statusService := invoicing.NewService(highWater, entities, tiers, invoices, nil, exclusions, log)
		stored, err := statusService.StoredInvoices(ctx, period)
		if err != nil {
			log.Error("Failed to load invoice records", zap.Error(err))
			return 1
		}
		writer.WriteStatus(period, stored)
		return 0
	}

	client, err := billing.NewClient(&cfg.Billing, log)
	if err != nil {
		log.Error("Failed to create billing client", zap.Error(err))
		return 1
	}
	source, err := snapshot.NewSource(ctx, &cfg.Snapshots, log)
	if err != nil {
		log.Error("Failed to create snapshot source", zap.Error(err))
		return 1
	}

	runner := pipeline.NewRunService(
		client,
		ingest.NewService(source, records, highWater, exclusions, log),
		reconciliation.NewService(entities, tiers, changeLog, highWater, exclusions,
			mapping.PricingPolicy(cfg.Invoicing.DefaultPricingPolicy), log),
		invoicing.NewService(highWater, entities, tiers, invoices, client, exclusions, log),
		log,
	)

	switch command {
	case "preview":
		result, err := runner.Preview(ctx, period)
		if err != nil {
			log.Error("Preview failed", zap.Error(err))
			return 1
		}
		writer.WritePreview(period, result)
		return 0

	default: // run, reconcile
		opts := pipeline.RunOptions{
			Period:        period,
			SkipFetch:     skipFetch,
			SkipReconcile: skipReconcile,
			SkipInvoices:  skipInvoices,
			Draft:         draft,
		}
		if command == "reconcile" {
			opts.SkipIngest = true
			opts.SkipInvoices = true
		}
		opts.Strategy, opts.DecidedBy = chooseStrategy(cfg, nonInteractive)

		summary, err := runner.Execute(ctx, opts)
		if err != nil {
			log.Error("Run failed", zap.Error(err))
			return 1
		}

		if jsonSummary {
			if err := writer.WriteSummaryJSON(summary); err != nil {
				log.Error("Failed to print summary", zap.Error(err))
				return 1
			}
		} else {
			writer.WriteSummary(summary)
		}

		if cfg.Run.FailOnIssues && summary.HasIssues() {
			log.Warn("Run completed with issues and run.fail_on_issues is set")
			return 1
		}
		return 0
	}
}

// resolvePeriod returns the requested billing period, defaulting to the
// previous calendar month when neither flag is set
func resolvePeriod(year, month int) (valueobject.BillingPeriod, error) {
	if year == 0 && month == 0 {
		return valueobject.PreviousBillingPeriod(time.Now().UTC()), nil
	}
	if year == 0 || month == 0 {
		return valueobject.BillingPeriod{}, fmt.Errorf("-year and -month must be given together")
	}
	return valueobject.NewBillingPeriod(year, month)
}

// chooseStrategy picks the interactive prompter unless the flag or the
// configuration disables prompting
func chooseStrategy(cfg *config.Config, nonInteractive bool) (reconcile.ResolutionStrategy, mapping.DecidedBy) {
	if nonInteractive || cfg.Run.NonInteractive {
		return reconcile.NewSkipStrategy(), mapping.DecidedByPolicy
	}
	return cli.NewPrompter(os.Stdin, os.Stdout), mapping.DecidedByOperator
}

func printUsage() {
	fmt.Println(`Reckon usage-to-billing reconciliation engine

Usage:
  reckon [flags] <command>

Commands:
  run        Full pipeline: ingest snapshots, reconcile mappings, generate invoices
  preview    Assemble the period's invoices from stored data and print them; no writes
  reconcile  Change detection and resolution only
  status     Print the period's stored invoice records

Flags:
  -year int          Billing year (default: previous calendar month)
  -month int         Billing month 1-12 (default: previous calendar month)
  -config string     Path to config file (default: ./config.toml)
  -log-level string  Override log level: debug, info, warn, error
  -skip-fetch        Reuse stored usage records instead of reading snapshots
  -skip-reconcile    Skip change detection and resolution
  -skip-invoices     Skip invoice generation
  -non-interactive   Never prompt; unresolved items are skipped and reported
  -draft             Record invoices locally without committing them externally
  -json-summary      Print the run summary as JSON

Environment:
  RECKON_* variables override config file values,
  e.g. RECKON_DATABASE_PASSWORD, RECKON_BILLING_API_TOKEN

Examples:
  # Reconcile and bill the previous calendar month interactively
  reckon run

  # Scheduled run: no prompts, machine-readable summary
  reckon -non-interactive -json-summary run

  # Re-bill a specific month from stored usage without re-reading snapshots
  reckon -year 2025 -month 11 -skip-fetch run

  # See what would be billed without touching anything
  reckon -year 2025 -month 11 preview`)
}
