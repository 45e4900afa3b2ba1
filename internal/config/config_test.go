package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9999"
database_url: postgres://sv:sv@localhost:5432/sv
object_store:
  endpoint: localhost:9000
  archive_bucket: crisis-archives
default_retention_days: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.ObjectStore.ArchiveBucket != "crisis-archives" {
		t.Errorf("archive_bucket = %q", cfg.ObjectStore.ArchiveBucket)
	}
	// Untouched fields keep their defaults.
	if cfg.ObjectStore.DocumentBucket != "sv-documents" {
		t.Errorf("document_bucket default lost: %q", cfg.ObjectStore.DocumentBucket)
	}
	if cfg.DefaultRetentionDays != 30 {
		t.Errorf("default_retention_days = %d", cfg.DefaultRetentionDays)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 200 {
		t.Errorf("rate limit defaults lost: %d/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://file-value
object_store:
  endpoint: file-endpoint:9000
`)
	t.Setenv("DATABASE_URL", "postgres://env-value")
	t.Setenv("SESSIONVAULT_S3_ENDPOINT", "env-endpoint:9000")
	t.Setenv("SESSIONVAULT_API_TOKEN", "tok")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-value" {
		t.Errorf("env should win over file: %q", cfg.DatabaseURL)
	}
	if cfg.ObjectStore.Endpoint != "env-endpoint:9000" {
		t.Errorf("endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.APIToken != "tok" {
		t.Errorf("api token = %q", cfg.APIToken)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-only")
	t.Setenv("SESSIONVAULT_S3_ENDPOINT", "localhost:9000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-only" {
		t.Errorf("database_url = %q", cfg.DatabaseURL)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("config without database_url should not validate")
	}

	cfg.DatabaseURL = "postgres://x"
	if err := cfg.Validate(); err == nil {
		t.Error("config without object store endpoint should not validate")
	}

	cfg.ObjectStore.Endpoint = "localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.ObjectStore.ExportBucket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty bucket name should not validate")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if cfg.OpTimeout().Seconds() != 10 {
		t.Errorf("op timeout = %v", cfg.OpTimeout())
	}
	if cfg.CacheTTL().Seconds() != 60 {
		t.Errorf("cache ttl = %v", cfg.CacheTTL())
	}
}
