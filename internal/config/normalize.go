package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStage()
	c.normalizeStages()
	c.normalizePipeline()
	c.normalizeUpload()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStage() {
	if value, ok := os.LookupEnv("CHARTFLOW_STAGE"); ok && strings.TrimSpace(value) != "" {
		c.Stage = value
	}
	c.Stage = strings.ToLower(strings.TrimSpace(c.Stage))
}

func (c *Config) normalizeStages() {
	overrideURL(&c.Stages.IngestionURL, "DOCUMENT_INGESTION_URL")
	overrideURL(&c.Stages.ParsingURL, "DOCUMENT_PARSING_URL")
	overrideURL(&c.Stages.StructuringURL, "INFORMATION_STRUCTURING_URL")
	overrideURL(&c.Stages.PredictionURL, "RISK_PREDICTION_URL")
	c.Stages.IngestionURL = strings.TrimRight(strings.TrimSpace(c.Stages.IngestionURL), "/")
	c.Stages.ParsingURL = strings.TrimRight(strings.TrimSpace(c.Stages.ParsingURL), "/")
	c.Stages.StructuringURL = strings.TrimRight(strings.TrimSpace(c.Stages.StructuringURL), "/")
	c.Stages.PredictionURL = strings.TrimRight(strings.TrimSpace(c.Stages.PredictionURL), "/")
}

func (c *Config) normalizePipeline() {
	overrideInt(&c.Pipeline.MaxRetries, "MAX_RETRIES")
	overrideFloat(&c.Pipeline.RetryDelay, "RETRY_DELAY")
	overrideFloat(&c.Pipeline.RetryBackoff, "RETRY_BACKOFF")
	overrideInt(&c.Pipeline.BatchSize, "BATCH_SIZE")
	overrideInt(&c.Pipeline.MaxConcurrent, "MAX_CONCURRENT")
	overrideFloat(&c.Pipeline.BatchDelay, "BATCH_DELAY")
	overrideInt(&c.Pipeline.DispatchTimeoutSeconds, "DISPATCH_TIMEOUT")
	overrideInt(&c.Pipeline.StatusTimeoutSeconds, "STATUS_TIMEOUT")
}

func (c *Config) normalizeUpload() {
	if c.Upload.MaxFileMiB <= 0 {
		c.Upload.MaxFileMiB = defaultMaxFileMiB
	}
	if c.Upload.MaxZipMiB <= 0 {
		c.Upload.MaxZipMiB = defaultMaxZipMiB
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = defaultAllowedExtensions()
	}
	for i, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Upload.AllowedExtensions[i] = ext
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func overrideURL(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		*target = parsed
	}
}

func overrideFloat(target *float64, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		*target = parsed
	}
}
