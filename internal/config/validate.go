package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCapture() error {
	if strings.TrimSpace(c.Capture.DevicePath) == "" {
		return errors.New("capture.device_path must be set")
	}
	if c.Capture.ChunkInterval <= 0 {
		return errors.New("capture.chunk_interval_seconds must be positive")
	}
	if c.Capture.MinDurationSeconds <= 0 {
		return errors.New("capture.min_duration_seconds must be positive")
	}
	switch c.Capture.Direction {
	case "front", "back":
	default:
		return fmt.Errorf("capture.direction must be %q or %q", "front", "back")
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.BinaryBackend {
	case "api":
	case "s3":
		if strings.TrimSpace(c.Ledger.S3Region) == "" {
			return errors.New("ledger.s3_region must be set when ledger.binary_backend is \"s3\"")
		}
		if strings.TrimSpace(c.Ledger.S3Bucket) == "" {
			return errors.New("ledger.s3_bucket must be set when ledger.binary_backend is \"s3\"")
		}
	default:
		return fmt.Errorf("ledger.binary_backend must be %q or %q", "api", "s3")
	}
	if c.Ledger.RequestTimeout <= 0 {
		return errors.New("ledger.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	if c.Delivery.BackoffBaseSeconds <= 0 {
		return errors.New("delivery.backoff_base_seconds must be positive")
	}
	if c.Delivery.BackoffCapSeconds < c.Delivery.BackoffBaseSeconds {
		return errors.New("delivery.backoff_cap_seconds must be at least the backoff base")
	}
	if c.Delivery.ProbeIntervalSeconds <= 0 {
		return errors.New("delivery.probe_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.LimitBytes < 0 {
		return errors.New("quota.limit_bytes must not be negative")
	}
	return nil
}
