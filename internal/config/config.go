package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	SpoolDir   string `toml:"spool_dir"`
	LogDir     string `toml:"log_dir"`
}

// Capture contains configuration for the local capture device.
type Capture struct {
	DevicePath         string `toml:"device_path"`
	PipelineBinary     string `toml:"pipeline_binary"`
	ChunkInterval      int    `toml:"chunk_interval_seconds"`
	MinDurationSeconds int    `toml:"min_duration_seconds"`
	MimeType           string `toml:"mime_type"`
	Direction          string `toml:"direction"`
}

// Rubric points at the active rubric definition file.
type Rubric struct {
	Path string `toml:"path"`
}

// Ledger contains configuration for the remote ledger transport.
type Ledger struct {
	APIBaseURL     string `toml:"api_base_url"`
	APIToken       string `toml:"api_token"`
	BinaryBackend  string `toml:"binary_backend"`
	RequestTimeout int    `toml:"request_timeout"`

	S3Region          string `toml:"s3_region"`
	S3Bucket          string `toml:"s3_bucket"`
	S3AccessKeyID     string `toml:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key"`
}

// Delivery contains configuration for the queue drain worker.
type Delivery struct {
	BackoffBaseSeconds   int `toml:"backoff_base_seconds"`
	BackoffCapSeconds    int `toml:"backoff_cap_seconds"`
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
}

// Quota identifies the capturing user and the advisory local limit.
type Quota struct {
	UserID     string `toml:"user_id"`
	LimitBytes int64  `toml:"limit_bytes"`
}

// Notifications configures push notifications for delivery events.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for slate.
//
// Configuration sections by subsystem:
//   - Paths: staging, spool, and log directories
//   - Capture: device node, pipeline binary, chunking, minimum duration
//   - Rubric: active rubric definition file
//   - Ledger: remote ledger API plus the binary transport backend
//   - Delivery: retry backoff and connectivity probing
//   - Quota: user scope and storage limit
//   - Notifications: ntfy push notifications for delivery events
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Capture       Capture       `toml:"capture"`
	Rubric        Rubric        `toml:"rubric"`
	Ledger        Ledger        `toml:"ledger"`
	Delivery      Delivery      `toml:"delivery"`
	Quota         Quota         `toml:"quota"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/slate/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file was found; defaults apply when it was not.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("slate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.SpoolDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the annotated sample configuration to the target path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves ~ and returns an absolute, cleaned path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Rubric.Path, err = expandPath(c.Rubric.Path); err != nil {
		return err
	}
	c.Ledger.BinaryBackend = strings.ToLower(strings.TrimSpace(c.Ledger.BinaryBackend))
	c.Capture.Direction = strings.ToLower(strings.TrimSpace(c.Capture.Direction))
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
