package testsupport

import (
	"path/filepath"
	"testing"

	"chartflow/internal/config"
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
	cfgVal.Stage = "ingestion"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StorageDir = filepath.Join(base, "storage")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

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

// WithStage selects the stage the test instance runs as.
func WithStage(stage string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stage = stage
	}
}

// WithStageURL points a named stage at the provided base URL, typically an
// httptest server address.
func WithStageURL(stage, url string) ConfigOption {
	return func(b *configBuilder) {
		switch stage {
		case "ingestion":
			b.cfg.Stages.IngestionURL = url
		case "parsing":
			b.cfg.Stages.ParsingURL = url
		case "structuring":
			b.cfg.Stages.StructuringURL = url
		case "prediction":
			b.cfg.Stages.PredictionURL = url
		default:
			b.t.Fatalf("unknown stage %q", stage)
		}
	}
}

// WithPipeline rewrites the pipeline settings through fn, for tests that
// tune retry or batch behavior.
func WithPipeline(fn func(*config.Pipeline)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Pipeline)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
