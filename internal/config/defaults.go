package config

const (
	defaultStage          = "ingestion"
	defaultDataDir        = "~/.local/share/chartflow/data"
	defaultStorageDir     = "~/.local/share/chartflow/storage"
	defaultLogDir         = "~/.local/share/chartflow/logs"
	defaultAPIBind        = "127.0.0.1:8001"
	defaultIngestionURL   = "http://localhost:8001"
	defaultParsingURL     = "http://localhost:8002"
	defaultStructuringURL = "http://localhost:8003"
	defaultPredictionURL  = "http://localhost:8004"
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"

	defaultMaxRetries      = 3
	defaultRetryDelay      = 5.0
	defaultRetryBackoff    = 2.0
	defaultBatchSize       = 10
	defaultMaxConcurrent   = 5
	defaultBatchDelay      = 2.0
	defaultDispatchTimeout = 60
	defaultStatusTimeout   = 10

	defaultMaxFileMiB = 10
	defaultMaxZipMiB  = 100
)

func defaultAllowedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".zip"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Stage: defaultStage,
		Paths: Paths{
			DataDir:    defaultDataDir,
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Stages: Stages{
			IngestionURL:   defaultIngestionURL,
			ParsingURL:     defaultParsingURL,
			StructuringURL: defaultStructuringURL,
			PredictionURL:  defaultPredictionURL,
		},
		Pipeline: Pipeline{
			MaxRetries:             defaultMaxRetries,
			RetryDelay:             defaultRetryDelay,
			RetryBackoff:           defaultRetryBackoff,
			BatchSize:              defaultBatchSize,
			MaxConcurrent:          defaultMaxConcurrent,
			BatchDelay:             defaultBatchDelay,
			DispatchTimeoutSeconds: defaultDispatchTimeout,
			StatusTimeoutSeconds:   defaultStatusTimeout,
		},
		Upload: Upload{
			MaxFileMiB:        defaultMaxFileMiB,
			MaxZipMiB:         defaultMaxZipMiB,
			AllowedExtensions: defaultAllowedExtensions(),
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
