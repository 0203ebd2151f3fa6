// Package config loads service settings from an optional config file, a .env
// file and TXINGEST_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dvloznov/txingest/internal/logger"
	"github.com/dvloznov/txingest/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "TXINGEST"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	DefaultPort           = 8080
	DefaultDBPath         = "txingest.db"
	DefaultWorkers        = 4
	DefaultQueueSize      = 100
	DefaultTimezone       = "Europe/Paris"
	DefaultJobRetention   = 24 * time.Hour
	DefaultMaxUploadBytes = 16 << 20
	DefaultRateLimit      = 5.0
	DefaultRateBurst      = 10
)

type Config struct {
	Port     int    `mapstructure:"port"`
	DBDriver string `mapstructure:"db_driver"`
	DBPath   string `mapstructure:"db_path"`
	DBDSN    string `mapstructure:"db_dsn"`

	UploadDir string `mapstructure:"upload_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	InboxDir  string `mapstructure:"inbox_dir"`

	BigQueryProject string `mapstructure:"bigquery_project"`
	BigQueryDataset string `mapstructure:"bigquery_dataset"`
	BigQueryTable   string `mapstructure:"bigquery_table"`

	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	JobRetention time.Duration `mapstructure:"job_retention"`

	Timezone                string `mapstructure:"timezone"`
	MissingIdentifierPolicy string `mapstructure:"missing_identifier_policy"`
	MaxUploadBytes          int64  `mapstructure:"max_upload_bytes"`
	LogLevel                string `mapstructure:"log_level"`

	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`

	location *time.Location
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"port":                      DefaultPort,
		"db_driver":                 DriverSQLite,
		"db_path":                   DefaultDBPath,
		"db_dsn":                    "",
		"upload_dir":                "",
		"gcs_bucket":                "",
		"inbox_dir":                 "",
		"bigquery_project":          "",
		"bigquery_dataset":          "txingest",
		"bigquery_table":            "transactions",
		"workers":                   DefaultWorkers,
		"queue_size":                DefaultQueueSize,
		"job_retention":             DefaultJobRetention,
		"timezone":                  DefaultTimezone,
		"missing_identifier_policy": string(pipeline.PolicyAssign),
		"max_upload_bytes":          DefaultMaxUploadBytes,
		"log_level":                 "info",
		"rate_limit_per_second":     DefaultRateLimit,
		"rate_limit_burst":          DefaultRateBurst,
	}
}

// Load reads the configuration. path may be empty; a .env file in the working
// directory is loaded when present. Environment variables win over the file.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("Load: reading %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings and resolves the reference time zone.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for sqlite"))
		}
	case DriverPostgres:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("db_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db_driver %q", c.DBDriver))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("queue_size must not be negative"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if _, err := pipeline.ParsePolicy(c.MissingIdentifierPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.BigQueryProject != "" && (c.BigQueryDataset == "" || c.BigQueryTable == "") {
		errs = append(errs, errors.New("bigquery_dataset and bigquery_table are required with bigquery_project"))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	} else {
		c.location = loc
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the reference time zone for upload timestamps.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return time.UTC
		}
		c.location = loc
	}
	return c.location
}

// Policy returns the configured missing identifier policy.
func (c *Config) Policy() pipeline.MissingIdentifierPolicy {
	p, err := pipeline.ParsePolicy(c.MissingIdentifierPolicy)
	if err != nil {
		return pipeline.PolicyAssign
	}
	return p
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
