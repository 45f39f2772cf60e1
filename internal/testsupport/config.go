package testsupport

import (
	"path/filepath"
	"testing"

	"slate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Ledger.APIBaseURL = "http://127.0.0.1:0"
	cfgVal.Ledger.APIToken = "test"
	cfgVal.Quota.UserID = "test-user"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLedgerURL points the test config at a live ledger endpoint, typically
// an httptest server.
func WithLedgerURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.APIBaseURL = url
	}
}

// WithQuotaLimit sets the advisory local storage limit on the test config.
func WithQuotaLimit(limitBytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.LimitBytes = limitBytes
	}
}

// WithDelivery overrides the retry backoff window on the test config.
func WithDelivery(baseSeconds, capSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Delivery.BackoffBaseSeconds = baseSeconds
		b.cfg.Delivery.BackoffCapSeconds = capSeconds
	}
}
