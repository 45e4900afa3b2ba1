// Package config loads the settings shared by the API server and the
// archivectl CLI: a YAML file plus environment overrides for the values
// that vary per deployment. Secrets (master key, object-store
// credentials) are NOT configuration; they come from the secrets
// provider.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable pointing at an alternate
// config file.
const EnvConfigFile = "SESSIONVAULT_CONFIG"

// Environment overrides applied after the file is read.
const (
	envListenAddr  = "SESSIONVAULT_LISTEN_ADDR"
	envDatabaseURL = "DATABASE_URL"
	envS3Endpoint  = "SESSIONVAULT_S3_ENDPOINT"
	envAPIToken    = "SESSIONVAULT_API_TOKEN"
	envLogLevel    = "SESSIONVAULT_LOG_LEVEL"
)

// ObjectStore holds the object-store connection settings. Credentials
// are deliberately absent; the secrets provider supplies them.
type ObjectStore struct {
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"use_ssl"`
	Region   string `yaml:"region"`

	ArchiveBucket  string `yaml:"archive_bucket"`
	DocumentBucket string `yaml:"document_bucket"`
	ExportBucket   string `yaml:"export_bucket"`
}

// Buckets returns every configured bucket, archive bucket first.
func (o ObjectStore) Buckets() []string {
	return []string{o.ArchiveBucket, o.DocumentBucket, o.ExportBucket}
}

// Config is the full service configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	// APIToken is the shared service token the dashboard presents on
	// every request. Empty disables API authentication (dev only).
	APIToken string `yaml:"api_token"`

	// MasterKeyFile points at the hex/base64 encoded master key. Empty
	// falls back to the secrets provider's environment variable.
	MasterKeyFile string `yaml:"master_key_file"`

	ObjectStore ObjectStore `yaml:"object_store"`

	DefaultRetentionDays int `yaml:"default_retention_days"`

	// OpTimeoutSeconds bounds each database and object-store call.
	OpTimeoutSeconds int `yaml:"op_timeout_seconds"`

	CacheSize       int `yaml:"cache_size"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Default returns the baseline configuration before file and env
// overrides.
func Default() Config {
	return Config{
		ListenAddr:           ":8400",
		LogLevel:             "info",
		DefaultRetentionDays: 365,
		OpTimeoutSeconds:     10,
		CacheSize:            512,
		CacheTTLSeconds:      60,
		RateLimitRPS:         100,
		RateLimitBurst:       200,
		ObjectStore: ObjectStore{
			ArchiveBucket:  "sv-archives",
			DocumentBucket: "sv-documents",
			ExportBucket:   "sv-exports",
		},
	}
}

// Load reads path (when it exists), applies environment overrides and
// validates the result. A missing file is not an error; defaults plus
// environment must be enough to run in containers.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(envS3Endpoint); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv(envAPIToken); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations that cannot possibly run.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url must be configured (or %s)", envDatabaseURL)
	}
	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("object_store.endpoint must be configured (or %s)", envS3Endpoint)
	}
	if c.DefaultRetentionDays <= 0 {
		return fmt.Errorf("default_retention_days must be positive, got %d", c.DefaultRetentionDays)
	}
	for _, b := range c.ObjectStore.Buckets() {
		if b == "" {
			return fmt.Errorf("object store bucket names must not be empty")
		}
	}
	return nil
}

// OpTimeout returns the per-operation bound as a duration.
func (c Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

// CacheTTL returns the metadata cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// File returns the config path: the env override when set, otherwise
// fallback.
func File(fallback string) string {
	if v := os.Getenv(EnvConfigFile); v != "" {
		return v
	}
	return fallback
}
