package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Jobs.Concurrency != 3 {
		t.Fatalf("jobs.concurrency = %d, want 3", cfg.Jobs.Concurrency)
	}
	if cfg.Search.RetryIntervalHours != 6 {
		t.Fatalf("search.retryIntervalHours = %v, want 6", cfg.Search.RetryIntervalHours)
	}
	if cfg.RSS.Enabled {
		t.Fatal("rss.enabled should default to false")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
jobs:
  concurrency: 8
rss:
  enabled: true
  feedUrls:
    - https://example.test/feed
rateLimiter:
  sonarr-indexer:
    capacity: 2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Jobs.Concurrency != 8 {
		t.Fatalf("jobs.concurrency = %d, want 8", cfg.Jobs.Concurrency)
	}
	if !cfg.RSS.Enabled || len(cfg.RSS.FeedURLs) != 1 {
		t.Fatalf("rss = %+v, want enabled with one feed", cfg.RSS)
	}
	if cfg.RateLimiter["sonarr-indexer"].Capacity != 2.5 {
		t.Fatalf("rateLimiter capacity = %+v, want 2.5", cfg.RateLimiter)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "jobs:\n  concurrency: 8\n")
	t.Setenv("ATLASARR_JOBS_CONCURRENCY", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Jobs.Concurrency != 16 {
		t.Fatalf("jobs.concurrency = %d, want 16 (env should win)", cfg.Jobs.Concurrency)
	}
}

func TestLoadRejectsNonYAMLExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a non-YAML config file")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "unknownField: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected strict parsing to reject an unknown field")
	}
}

func TestValidateRejectsInvalidConcurrency(t *testing.T) {
	cfg := defaults()
	cfg.Jobs.Concurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for zero concurrency")
	}
}

func TestValidateRequiresIRCFieldsWhenEnabled(t *testing.T) {
	cfg := defaults()
	cfg.IRC.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for irc.enabled without server/nickname/channels")
	}
}

func TestValidateRequiresRSSFeedsWhenEnabled(t *testing.T) {
	cfg := defaults()
	cfg.RSS.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for rss.enabled without any feed urls")
	}
}
