package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Billing   BillingConfig
	Snapshots SnapshotsConfig
	Exclude   ExclusionsConfig
	Invoicing InvoicingConfig
	Run       RunConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings.
// Driver selects postgres (service deployments) or sqlite (single-file mode
// and local runs); Path is only meaningful for sqlite.
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// BillingConfig holds billing-system API client settings
type BillingConfig struct {
	BaseURL             string
	APIToken            string
	RequestTimeout      time.Duration
	MinRequestInterval  time.Duration
	MaxRetries          int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// SnapshotsConfig holds snapshot source settings. Source selects the local
// directory or an S3-compatible object store; the S3 fields follow the
// usual S3-compatible conventions (custom endpoint, path-style addressing).
type SnapshotsConfig struct {
	Source       string // local, s3
	Dir          string
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// ExclusionsConfig holds glob patterns for entities and tiers that never bill
type ExclusionsConfig struct {
	Entities []string
	Tiers    []string
}

// InvoicingConfig holds invoice assembly settings
type InvoicingConfig struct {
	Currency             string
	DefaultPricingPolicy string // snapshot, live
}

// RunConfig holds pipeline run policy settings
type RunConfig struct {
	FailOnIssues   bool
	NonInteractive bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RECKON_ prefix (e.g., RECKON_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration, preferring an explicit file path when given
func LoadFrom(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reckon")
	}

	// Booleans whose absence must mean true
	v.SetDefault("database.auto_migrate", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("RECKON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Billing: BillingConfig{
			BaseURL:             v.GetString("billing.base_url"),
			APIToken:            v.GetString("billing.api_token"),
			RequestTimeout:      v.GetDuration("billing.request_timeout"),
			MinRequestInterval:  v.GetDuration("billing.min_request_interval"),
			MaxRetries:          v.GetInt("billing.max_retries"),
			RetryInitialBackoff: v.GetDuration("billing.retry_initial_backoff"),
			RetryMaxBackoff:     v.GetDuration("billing.retry_max_backoff"),
		},
		Snapshots: SnapshotsConfig{
			Source:       v.GetString("snapshots.source"),
			Dir:          v.GetString("snapshots.dir"),
			Bucket:       v.GetString("snapshots.bucket"),
			Prefix:       v.GetString("snapshots.prefix"),
			Region:       v.GetString("snapshots.region"),
			Endpoint:     v.GetString("snapshots.endpoint"),
			AccessKey:    v.GetString("snapshots.access_key"),
			SecretKey:    v.GetString("snapshots.secret_key"),
			UseSSL:       v.GetBool("snapshots.use_ssl"),
			UsePathStyle: v.GetBool("snapshots.use_path_style"),
		},
		Exclude: ExclusionsConfig{
			Entities: v.GetStringSlice("exclusions.entities"),
			Tiers:    v.GetStringSlice("exclusions.tiers"),
		},
		Invoicing: InvoicingConfig{
			Currency:             v.GetString("invoicing.currency"),
			DefaultPricingPolicy: v.GetString("invoicing.default_pricing_policy"),
		},
		Run: RunConfig{
			FailOnIssues:   v.GetBool("run.fail_on_issues"),
			NonInteractive: v.GetBool("run.non_interactive"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "reckon"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "reckon"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "reckon.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Billing.RequestTimeout == 0 {
		cfg.Billing.RequestTimeout = 30 * time.Second
	}
	if cfg.Billing.MinRequestInterval == 0 {
		cfg.Billing.MinRequestInterval = 100 * time.Millisecond
	}
	if cfg.Billing.MaxRetries == 0 {
		cfg.Billing.MaxRetries = 3
	}
	if cfg.Billing.RetryInitialBackoff == 0 {
		cfg.Billing.RetryInitialBackoff = time.Second
	}
	if cfg.Billing.RetryMaxBackoff == 0 {
		cfg.Billing.RetryMaxBackoff = 60 * time.Second
	}
	if cfg.Snapshots.Source == "" {
		cfg.Snapshots.Source = "local"
	}
	if cfg.Snapshots.Dir == "" {
		cfg.Snapshots.Dir = "snapshots"
	}
	if cfg.Snapshots.Region == "" {
		cfg.Snapshots.Region = "us-east-1"
	}
	if cfg.Invoicing.Currency == "" {
		cfg.Invoicing.Currency = "USD"
	}
	if cfg.Invoicing.DefaultPricingPolicy == "" {
		cfg.Invoicing.DefaultPricingPolicy = "snapshot"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reckon"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Snapshots.Source {
	case "local", "s3":
	default:
		return fmt.Errorf("snapshots.source must be local or s3, got %q", c.Snapshots.Source)
	}
	if c.Snapshots.Source == "s3" && c.Snapshots.Bucket == "" {
		return fmt.Errorf("snapshots.bucket is required when snapshots.source is s3")
	}

	switch c.Invoicing.DefaultPricingPolicy {
	case "snapshot", "live":
	default:
		return fmt.Errorf("invoicing.default_pricing_policy must be snapshot or live, got %q", c.Invoicing.DefaultPricingPolicy)
	}
	if len(c.Invoicing.Currency) != 3 {
		return fmt.Errorf("invoicing.currency must be a 3-letter code, got %q", c.Invoicing.Currency)
	}

	// Exclusion patterns fail fast: a typo here silently changes who gets
	// billed, so a bad pattern must stop the run before any work happens.
	for _, pattern := range c.Exclude.Entities {
		if err := validatePattern(pattern); err != nil {
			return fmt.Errorf("exclusions.entities pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range c.Exclude.Tiers {
		if err := validatePattern(pattern); err != nil {
			return fmt.Errorf("exclusions.tiers pattern %q: %w", pattern, err)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Billing.APIToken == "" {
			return fmt.Errorf("billing.api_token is required in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// validatePattern rejects glob patterns path.Match cannot parse
func validatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("pattern cannot be blank")
	}
	if _, err := path.Match(pattern, "probe"); err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values.
// For sqlite this is simply the database file path.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
