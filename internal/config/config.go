// Package config loads finsync settings from a YAML file, FINSYNC_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dvloznov/finance-sync/internal/credentials"
)

// EnvPrefix prefixes every environment variable, e.g. FINSYNC_KV_BACKEND.
const EnvPrefix = "FINSYNC"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendGCS      = "gcs"
	BackendBigQuery = "bigquery"
)

// Config is the resolved configuration.
type Config struct {
	Integration string `mapstructure:"integration"`
	Environment string `mapstructure:"environment"`

	KV    KVConfig    `mapstructure:"kv"`
	Store StoreConfig `mapstructure:"store"`
	Sync  SyncConfig  `mapstructure:"sync"`

	Plaid    EndpointConfig `mapstructure:"plaid"`
	SaltEdge EndpointConfig `mapstructure:"saltedge"`

	API  APIConfig  `mapstructure:"api"`
	Jobs JobsConfig `mapstructure:"jobs"`
	Log  LogConfig  `mapstructure:"log"`
}

// KVConfig selects where credentials and cursors live.
type KVConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
}

// StoreConfig selects where transaction rows live.
type StoreConfig struct {
	Backend         string `mapstructure:"backend"`
	Name            string `mapstructure:"name"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	BigQueryProject string `mapstructure:"bigquery_project"`
	BigQueryDataset string `mapstructure:"bigquery_dataset"`
}

// SyncConfig holds reconciler switches.
type SyncConfig struct {
	UpsertAdded bool `mapstructure:"upsert_added"`
	GrowHeader  bool `mapstructure:"grow_header"`
}

// EndpointConfig overrides an aggregator base URL.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// APIConfig configures the HTTP trigger server.
type APIConfig struct {
	Port string `mapstructure:"port"`
	// Token, when set, is required as a bearer token on every request
	// except /health.
	Token string `mapstructure:"token"`
}

// JobsConfig configures the background job queue.
type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	Buffer     int `mapstructure:"buffer"`
	MaxRetries int `mapstructure:"max_retries"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("integration", string(credentials.Plaid))
	v.SetDefault("environment", "sandbox")
	v.SetDefault("kv.backend", BackendSQLite)
	v.SetDefault("kv.sqlite_path", "finsync.db")
	v.SetDefault("kv.gcs_bucket", "")
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.name", "transactions")
	v.SetDefault("store.sqlite_path", "finsync.db")
	v.SetDefault("store.bigquery_project", "")
	v.SetDefault("store.bigquery_dataset", "finsync")
	v.SetDefault("sync.upsert_added", false)
	v.SetDefault("sync.grow_header", false)
	v.SetDefault("plaid.base_url", "")
	v.SetDefault("saltedge.base_url", "")
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.token", "")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.buffer", 100)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// BindFlags binds each flag to the key of the same name with "-" read as
// "_" and the first "-" of a known section read as ".", so --kv-backend
// sets kv.backend.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(FlagKey(f.Name), f); err != nil {
			errs = append(errs, fmt.Errorf("binding --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

var sections = []string{"kv", "store", "sync", "plaid", "saltedge", "api", "jobs", "log"}

// FlagKey maps a flag name to its config key.
func FlagKey(flag string) string {
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(flag, s+"-"); ok {
			return s + "." + strings.ReplaceAll(rest, "-", "_")
		}
	}
	return strings.ReplaceAll(flag, "-", "_")
}

// Load reads the optional file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend names and their required settings.
func (c *Config) Validate() error {
	if _, err := credentials.ParseIntegration(c.Integration); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Environment == "" {
		return errors.New("config: environment is required")
	}

	switch c.KV.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.KV.SQLitePath == "" {
			return errors.New("config: kv.sqlite_path is required for the sqlite backend")
		}
	case BackendGCS:
		if c.KV.GCSBucket == "" {
			return errors.New("config: kv.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config: unknown kv.backend %q", c.KV.Backend)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("config: store.sqlite_path is required for the sqlite backend")
		}
	case BackendBigQuery:
		if c.Store.BigQueryProject == "" {
			return errors.New("config: store.bigquery_project is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	if c.Store.Name == "" {
		return errors.New("config: store.name is required")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("config: jobs.workers must be at least 1, got %d", c.Jobs.Workers)
	}
	return nil
}

// BaseURL returns the configured base URL override for the integration.
func (c *Config) BaseURL(integration credentials.Integration) string {
	if integration == credentials.SaltEdge {
		return c.SaltEdge.BaseURL
	}
	return c.Plaid.BaseURL
}
