package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/txingest/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultJobRetention, cfg.JobRetention)
	assert.EqualValues(t, DefaultMaxUploadBytes, cfg.MaxUploadBytes)
	assert.Equal(t, pipeline.PolicyAssign, cfg.Policy())
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TXINGEST_PORT", "9090")
	t.Setenv("TXINGEST_WORKERS", "2")
	t.Setenv("TXINGEST_JOB_RETENTION", "90m")
	t.Setenv("TXINGEST_MISSING_IDENTIFIER_POLICY", "reject")
	t.Setenv("TXINGEST_TIMEZONE", "UTC")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 90*time.Minute, cfg.JobRetention)
	assert.Equal(t, pipeline.PolicyReject, cfg.Policy())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_ConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TXINGEST_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TXINGEST_LOG_LEVEL") })

	path := filepath.Join(dir, "txingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue_size: 7\ninbox_dir: /tmp/inbox\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.QueueSize)
	assert.Equal(t, "/tmp/inbox", cfg.InboxDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                    8080,
			DBDriver:                DriverSQLite,
			DBPath:                  "tx.db",
			Workers:                 1,
			MaxUploadBytes:          1,
			Timezone:                "UTC",
			MissingIdentifierPolicy: "assign",
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"unknown driver":         func(c *Config) { c.DBDriver = "mysql" },
		"postgres without dsn":   func(c *Config) { c.DBDriver = DriverPostgres },
		"sqlite without path":    func(c *Config) { c.DBPath = "" },
		"bad port":               func(c *Config) { c.Port = 0 },
		"no workers":             func(c *Config) { c.Workers = 0 },
		"negative queue":         func(c *Config) { c.QueueSize = -1 },
		"no upload size":         func(c *Config) { c.MaxUploadBytes = 0 },
		"bad policy":             func(c *Config) { c.MissingIdentifierPolicy = "drop" },
		"bad level":              func(c *Config) { c.LogLevel = "loud" },
		"bad timezone":           func(c *Config) { c.Timezone = "Mars/Olympus" },
		"negative rate":          func(c *Config) { c.RateLimitPerSecond = -1 },
		"bigquery without table": func(c *Config) { c.BigQueryProject = "p" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
