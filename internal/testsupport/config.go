package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are zeroed so adapter failures do not slow tests down.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Retry.BaseDelayMilli = 0
	cfgVal.Retry.MaxDelayMilli = 0

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

// WithEntityRecognition sets the default entity recognition flag for new documents.
func WithEntityRecognition(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.EntityRecognitionDefault = enabled
	}
}

// WithEndpoints points the HTTP adapters at test servers. Empty values keep defaults.
func WithEndpoints(ocrURL, entityURL, llmURL string) ConfigOption {
	return func(b *configBuilder) {
		if ocrURL != "" {
			b.cfg.OCR.BaseURL = ocrURL
		}
		if entityURL != "" {
			b.cfg.Entity.BaseURL = entityURL
		}
		if llmURL != "" {
			b.cfg.LLM.BaseURL = llmURL
		}
	}
}

// WithMutation applies an arbitrary change to the generated config.
func WithMutation(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
