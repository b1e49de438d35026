package stage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"chartflow/internal/config"
	"chartflow/internal/docstore"
	"chartflow/internal/services"
)

// Builtin returns the built-in worker for a stage name. Built-in workers
// validate the document record and its stored artifact; production
// deployments swap in handlers that call the real parsing, structuring, and
// prediction backends through the same interface.
func Builtin(stageName string, cfg *config.Config) (Handler, error) {
	name, ok := docstore.ParseStage(stageName)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stageName)
	}
	switch name {
	case docstore.StageIngestion:
		return &storedFileChecker{name: string(name), storageDir: cfg.Paths.StorageDir}, nil
	default:
		return &recordChecker{name: string(name)}, nil
	}
}

// storedFileChecker verifies the uploaded artifact is present on disk before
// the document is handed down the pipeline.
type storedFileChecker struct {
	name       string
	storageDir string
}

func (s *storedFileChecker) Process(ctx context.Context, doc *docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(doc.StoredPath) == "" {
		return services.Wrap(services.ErrValidation, s.name, "check artifact",
			"Document has no stored file", nil)
	}
	if _, err := os.Stat(doc.StoredPath); err != nil {
		return services.Wrap(services.ErrValidation, s.name, "check artifact",
			fmt.Sprintf("Stored file missing: %s", doc.StoredPath), err)
	}
	return nil
}

func (s *storedFileChecker) HealthCheck(context.Context) Health {
	if strings.TrimSpace(s.storageDir) == "" {
		return Unhealthy(s.name, "storage directory not configured")
	}
	if _, err := os.Stat(s.storageDir); err != nil {
		return Unhealthy(s.name, fmt.Sprintf("storage directory unavailable: %v", err))
	}
	return Healthy(s.name)
}

// recordChecker is the default worker for downstream stages: it asserts the
// document record carries what the stage needs and leaves the heavy lifting
// to the configured backend.
type recordChecker struct {
	name string
}

func (r *recordChecker) Process(ctx context.Context, doc *docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(doc.ID) == "" {
		return services.Wrap(services.ErrValidation, r.name, "check record",
			"Document id missing from dispatch", nil)
	}
	if strings.TrimSpace(doc.OriginalFilename) == "" {
		return services.Wrap(services.ErrValidation, r.name, "check record",
			"Document filename missing from dispatch", nil)
	}
	return nil
}

func (r *recordChecker) HealthCheck(context.Context) Health {
	return Healthy(r.name)
}
