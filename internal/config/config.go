// Package config loads and validates ingester configuration. Settings come
// from an optional YAML file overlaid by environment variables; validation
// happens once at startup, before any file is processed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeLayout is the accepted format for explicit backfill range bounds.
const TimeLayout = "2006-01-02 15:04:05"

// Config is the full configuration surface of the ingester.
type Config struct {
	Snowflake SnowflakeConfig `yaml:"snowflake"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SnowflakeConfig holds warehouse connection parameters and object names.
// Password is never logged; it is handed to the warehouse loader only.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"-"` // env only, keeps secrets out of config files
	Role      string `yaml:"role"`
	Warehouse string `yaml:"warehouse"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Stage     string `yaml:"stage"`
	Table     string `yaml:"table"`
}

// IngestConfig holds pipeline behavior settings.
type IngestConfig struct {
	WorkDir          string        `yaml:"work_dir"`
	BaseURL          string        `yaml:"base_url"`
	MaxWorkers       int           `yaml:"max_workers"`
	StartTime        string        `yaml:"start_time"` // TimeLayout; empty = current hour mode
	EndTime          string        `yaml:"end_time"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	WarehouseTimeout time.Duration `yaml:"warehouse_timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

// ArchiveConfig holds the optional raw-dump retention mirror settings.
type ArchiveConfig struct {
	BucketURL string `yaml:"bucket_url"` // e.g. gs://bucket/prefix, s3://…, file://…; empty disables
}

// CatalogConfig holds the optional Postgres load-history settings.
type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty disables
}

// LoggingConfig mirrors logging.Config for YAML/env loading.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig mirrors metrics.Config for YAML/env loading.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables on top.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Snowflake: SnowflakeConfig{
			Schema: "WIKIPEDIA",
			Stage:  "WIKIPEDIA_PAGEVIEWS_STAGE",
			Table:  "RAW_WIKIPEDIA_PAGEVIEWS",
		},
		Ingest: IngestConfig{
			WorkDir:          "wikipedia_pageviews_files",
			MaxWorkers:       5,
			DownloadTimeout:  5 * time.Minute,
			WarehouseTimeout: 10 * time.Minute,
			RetryAttempts:    3,
			RetryBackoff:     time.Second,
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Snowflake.Account, "SNOWFLAKE_ACCOUNT")
	setString(&cfg.Snowflake.User, "SNOWFLAKE_USER")
	setString(&cfg.Snowflake.Password, "SNOWFLAKE_PASSWORD")
	setString(&cfg.Snowflake.Role, "SNOWFLAKE_ROLE")
	setString(&cfg.Snowflake.Warehouse, "SNOWFLAKE_WAREHOUSE")
	setString(&cfg.Snowflake.Database, "SNOWFLAKE_DATABASE")
	setString(&cfg.Snowflake.Schema, "SNOWFLAKE_SCHEMA")
	setString(&cfg.Snowflake.Stage, "SNOWFLAKE_STAGE_NAME")
	setString(&cfg.Snowflake.Table, "SNOWFLAKE_TABLE_NAME")

	setString(&cfg.Ingest.WorkDir, "LOCAL_DATA_DIR")
	setString(&cfg.Ingest.BaseURL, "PAGEVIEWS_BASE_URL")
	setInt(&cfg.Ingest.MaxWorkers, "MAX_DOWNLOAD_WORKERS")
	setString(&cfg.Ingest.StartTime, "START_TIME")
	setString(&cfg.Ingest.EndTime, "END_TIME")
	setDuration(&cfg.Ingest.DownloadTimeout, "DOWNLOAD_TIMEOUT")
	setDuration(&cfg.Ingest.WarehouseTimeout, "WAREHOUSE_TIMEOUT")
	setInt(&cfg.Ingest.RetryAttempts, "RETRY_ATTEMPTS")
	setDuration(&cfg.Ingest.RetryBackoff, "RETRY_BACKOFF")

	setString(&cfg.Archive.BucketURL, "ARCHIVE_BUCKET_URL")
	setString(&cfg.Catalog.PostgresDSN, "CATALOG_DSN")

	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	setString(&cfg.Metrics.Address, "METRICS_ADDR")
}

// Validate checks required settings. A failure here aborts the whole run
// before any file is processed.
func (c Config) Validate() error {
	required := map[string]string{
		"SNOWFLAKE_ACCOUNT":   c.Snowflake.Account,
		"SNOWFLAKE_USER":      c.Snowflake.User,
		"SNOWFLAKE_PASSWORD":  c.Snowflake.Password,
		"SNOWFLAKE_WAREHOUSE": c.Snowflake.Warehouse,
		"SNOWFLAKE_DATABASE":  c.Snowflake.Database,
		"SNOWFLAKE_SCHEMA":    c.Snowflake.Schema,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("missing required Snowflake connection parameter %s", name)
		}
	}

	if c.Ingest.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1, got %d", c.Ingest.MaxWorkers)
	}

	if (c.Ingest.StartTime == "") != (c.Ingest.EndTime == "") {
		return fmt.Errorf("START_TIME and END_TIME must be set together")
	}
	if c.Ingest.StartTime != "" {
		if _, _, err := c.Range(); err != nil {
			return err
		}
	}
	return nil
}

// HasRange reports whether an explicit backfill range was configured.
func (c Config) HasRange() bool {
	return c.Ingest.StartTime != "" && c.Ingest.EndTime != ""
}

// Range parses the configured backfill bounds.
func (c Config) Range() (start, end time.Time, err error) {
	start, err = time.Parse(TimeLayout, c.Ingest.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse START_TIME %q: %w", c.Ingest.StartTime, err)
	}
	end, err = time.Parse(TimeLayout, c.Ingest.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse END_TIME %q: %w", c.Ingest.EndTime, err)
	}
	return start, end, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
