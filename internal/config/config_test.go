package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Capture.DevicePath != defaultDevicePath {
		t.Fatalf("expected default device path, got %q", cfg.Capture.DevicePath)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[capture]",
		`device_path = "/dev/video9"`,
		"min_duration_seconds = 3",
		"[ledger]",
		`binary_backend = "S3"`,
		`s3_region = "eu-west-1"`,
		`s3_bucket = "captures"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Capture.DevicePath != "/dev/video9" {
		t.Fatalf("unexpected device path %q", cfg.Capture.DevicePath)
	}
	if cfg.Capture.MinDurationSeconds != 3 {
		t.Fatalf("unexpected min duration %d", cfg.Capture.MinDurationSeconds)
	}
	if cfg.Ledger.BinaryBackend != "s3" {
		t.Fatalf("expected backend normalized to s3, got %q", cfg.Ledger.BinaryBackend)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty_device", func(c *Config) { c.Capture.DevicePath = "" }},
		{"zero_chunk_interval", func(c *Config) { c.Capture.ChunkInterval = 0 }},
		{"zero_min_duration", func(c *Config) { c.Capture.MinDurationSeconds = 0 }},
		{"bad_direction", func(c *Config) { c.Capture.Direction = "sideways" }},
		{"bad_backend", func(c *Config) { c.Ledger.BinaryBackend = "ftp" }},
		{"s3_without_bucket", func(c *Config) {
			c.Ledger.BinaryBackend = "s3"
			c.Ledger.S3Region = "us-east-1"
			c.Ledger.S3Bucket = ""
		}},
		{"backoff_cap_below_base", func(c *Config) {
			c.Delivery.BackoffBaseSeconds = 60
			c.Delivery.BackoffCapSeconds = 10
		}},
		{"negative_quota", func(c *Config) { c.Quota.LimitBytes = -1 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.SpoolDir = filepath.Join(base, "spool")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.SpoolDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
}

func TestSampleConfigMentionsEverySection(t *testing.T) {
	sample := SampleConfig()
	for _, section := range []string{"[paths]", "[capture]", "[rubric]", "[ledger]", "[delivery]", "[quota]", "[logging]"} {
		if !strings.Contains(sample, section) {
			t.Fatalf("sample config missing section %s", section)
		}
	}
}
