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

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Stages holds the base URLs of every pipeline stage. A stage instance uses
// these to dispatch to its successor and to call back to the origin.
type Stages struct {
	IngestionURL   string `toml:"ingestion_url"`
	ParsingURL     string `toml:"parsing_url"`
	StructuringURL string `toml:"structuring_url"`
	PredictionURL  string `toml:"prediction_url"`
}

// URL returns the configured base URL for a stage name, or "" when unknown.
func (s Stages) URL(stage string) string {
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "ingestion":
		return s.IngestionURL
	case "parsing":
		return s.ParsingURL
	case "structuring":
		return s.StructuringURL
	case "prediction":
		return s.PredictionURL
	default:
		return ""
	}
}

// Pipeline contains dispatch retry and batch fan-out settings.
// Delays are in seconds to match the environment override surface.
type Pipeline struct {
	MaxRetries             int     `toml:"max_retries"`
	RetryDelay             float64 `toml:"retry_delay"`
	RetryBackoff           float64 `toml:"retry_backoff"`
	BatchSize              int     `toml:"batch_size"`
	MaxConcurrent          int     `toml:"max_concurrent"`
	BatchDelay             float64 `toml:"batch_delay"`
	DispatchTimeoutSeconds int     `toml:"dispatch_timeout"`
	StatusTimeoutSeconds   int     `toml:"status_timeout"`
}

// Upload contains intake validation limits for the ingestion stage.
type Upload struct {
	MaxFileMiB        int      `toml:"max_file_mib"`
	MaxZipMiB         int      `toml:"max_zip_mib"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Logging contains log level and format settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration for a chartflow stage instance.
type Config struct {
	Stage    string   `toml:"stage"`
	Paths    Paths    `toml:"paths"`
	Stages   Stages   `toml:"stages"`
	Pipeline Pipeline `toml:"pipeline"`
	Upload   Upload   `toml:"upload"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	if base, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "chartflow", "config.toml")
	}
	return filepath.Join("~", ".config", "chartflow", "config.toml")
}

// Load reads the config file at path (or the default location when empty),
// layers it over defaults, applies environment overrides, and validates the
// result. A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	expanded, err := expandPath(resolved)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(expanded)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", expanded, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read %s: %w", expanded, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration can drive a stage instance.
// Validation failures are process-level faults; the daemon refuses to start.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !knownStage(c.Stage) {
		return fmt.Errorf("stage: unknown value %q (expected ingestion, parsing, structuring, or prediction)", c.Stage)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries: must be at least 1, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.RetryDelay < 0 {
		return fmt.Errorf("pipeline.retry_delay: must not be negative, got %v", c.Pipeline.RetryDelay)
	}
	if c.Pipeline.RetryBackoff < 1 {
		return fmt.Errorf("pipeline.retry_backoff: must be at least 1.0, got %v", c.Pipeline.RetryBackoff)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size: must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent: must be at least 1, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.BatchDelay < 0 {
		return fmt.Errorf("pipeline.batch_delay: must not be negative, got %v", c.Pipeline.BatchDelay)
	}
	if c.Pipeline.DispatchTimeoutSeconds < 1 {
		return fmt.Errorf("pipeline.dispatch_timeout: must be at least 1 second, got %d", c.Pipeline.DispatchTimeoutSeconds)
	}
	if c.Pipeline.StatusTimeoutSeconds < 1 {
		return fmt.Errorf("pipeline.status_timeout: must be at least 1 second, got %d", c.Pipeline.StatusTimeoutSeconds)
	}
	return nil
}

// EnsureDirectories creates the data, storage, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StorageDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the annotated sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", expanded, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func knownStage(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ingestion", "parsing", "structuring", "prediction":
		return true
	default:
		return false
	}
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Clean(trimmed), nil
}
