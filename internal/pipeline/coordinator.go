package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"chartflow/internal/batch"
	"chartflow/internal/config"
	"chartflow/internal/dispatch"
	"chartflow/internal/docstore"
	"chartflow/internal/logging"
	"chartflow/internal/notify"
	"chartflow/internal/services"
	"chartflow/internal/stage"
)

// ProcessRequest is the JSON body of a cross-stage dispatch. The origin sends
// enough of the document record for the receiving stage to work without a
// shared database.
type ProcessRequest struct {
	DocumentID       string `json:"document_id"`
	OriginalFilename string `json:"original_filename"`
	StoredPath       string `json:"stored_path,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	SizeBytes        int64  `json:"size_bytes,omitempty"`
}

// Coordinator drives document processing for one stage instance.
type Coordinator struct {
	cfg        *config.Config
	store      *docstore.Store
	dispatcher *dispatch.Client
	scheduler  *batch.Scheduler
	notifier   notify.Service
	handler    stage.Handler
	logger     *slog.Logger

	wg sync.WaitGroup
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithDispatcher overrides the dispatch client, used by tests to inject
// recorded sleepers.
func WithDispatcher(client *dispatch.Client) Option {
	return func(c *Coordinator) {
		if client != nil {
			c.dispatcher = client
		}
	}
}

// WithScheduler overrides the batch scheduler.
func WithScheduler(scheduler *batch.Scheduler) Option {
	return func(c *Coordinator) {
		if scheduler != nil {
			c.scheduler = scheduler
		}
	}
}

// New builds a coordinator for the configured stage.
func New(cfg *config.Config, store *docstore.Store, notifier notify.Service, handler stage.Handler, logger *slog.Logger, opts ...Option) *Coordinator {
	if notifier == nil {
		notifier = notify.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Coordinator{
		cfg:        cfg,
		store:      store,
		notifier:   notifier,
		handler:    handler,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		dispatcher: dispatch.NewClient(cfg, dispatch.WithLogger(logger)),
		scheduler:  batch.NewScheduler(cfg, batch.WithLogger(logger)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stage returns the stage this instance runs as.
func (c *Coordinator) Stage() docstore.Stage {
	parsed, _ := docstore.ParseStage(c.cfg.Stage)
	return parsed
}

// Wait blocks until every background dispatch spawned by the coordinator has
// finished. The daemon calls it during shutdown; tests use it to observe
// asynchronous effects.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Intake persists a freshly uploaded document. Dispatch is a separate step;
// the upload response must not wait on downstream stages.
func (c *Coordinator) Intake(ctx context.Context, doc *docstore.Document) error {
	if err := c.store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("intake document: %w", err)
	}
	c.logger.Info("document ingested",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String("filename", doc.OriginalFilename),
		logging.Int64("size_bytes", doc.SizeBytes),
		logging.String(logging.FieldEventType, "document_ingested"))
	return nil
}

// IntakeBulk persists a batch of documents atomically and fans dispatch out
// in the background. The returned error covers intake only; per-document
// dispatch outcomes land in the store as the background run progresses.
func (c *Coordinator) IntakeBulk(ctx context.Context, docs []*docstore.Document) error {
	if err := c.store.CreateDocuments(ctx, docs); err != nil {
		return fmt.Errorf("intake batch: %w", err)
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	c.logger.Info("batch ingested",
		logging.Int("count", len(ids)),
		logging.String(logging.FieldEventType, "batch_ingested"))

	c.spawn(ctx, func(bg context.Context) {
		results := c.scheduler.Run(bg, ids, func(itemCtx context.Context, id string) error {
			return c.startStage(itemCtx, id, docstore.StageParsing)
		})
		if failed := batch.Failed(results); len(failed) > 0 {
			c.logger.Warn("batch dispatch finished with failures",
				logging.Int("total", len(results)),
				logging.Int("failed", len(failed)),
				logging.String(logging.FieldEventType, "batch_dispatch_failures"))
		}
	})
	return nil
}

// Process triggers the pipeline for one document. The document must exist;
// dispatch to the first downstream stage runs in the background.
func (c *Coordinator) Process(ctx context.Context, documentID string) (*docstore.Document, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, docstore.ErrNotFound
	}
	c.spawn(ctx, func(bg context.Context) {
		if err := c.startStage(bg, documentID, docstore.StageParsing); err != nil {
			c.logger.Error("dispatch failed",
				logging.String(logging.FieldDocumentID, documentID),
				logging.Error(err))
		}
	})
	return doc, nil
}

// Resubmit pushes a failed document back to the start of the pipeline.
func (c *Coordinator) Resubmit(ctx context.Context, documentID string) (*docstore.Document, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, docstore.ErrNotFound
	}
	if doc.Status != docstore.StatusFailed {
		return doc, services.Wrap(services.ErrValidation, c.cfg.Stage, "resubmit",
			fmt.Sprintf("Document is %s; only failed documents can be resubmitted", doc.Status), nil)
	}

	updated, err := c.store.ApplyEvent(ctx, documentID, docstore.Event{Kind: docstore.EventResubmitted})
	if err != nil {
		return updated, err
	}
	c.logger.Info("document resubmitted",
		logging.String(logging.FieldDocumentID, documentID),
		logging.String(logging.FieldEventType, "document_resubmitted"))

	c.spawn(ctx, func(bg context.Context) {
		if err := c.startStage(bg, documentID, docstore.StageParsing); err != nil {
			c.logger.Error("resubmit dispatch failed",
				logging.String(logging.FieldDocumentID, documentID),
				logging.Error(err))
		}
	})
	return updated, nil
}

// Delete removes the document everywhere: the stored file and local record
// first, then the downstream copies via deletion fan-out.
func (c *Coordinator) Delete(ctx context.Context, documentID string) error {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if doc != nil && strings.TrimSpace(doc.StoredPath) != "" {
		if err := os.Remove(doc.StoredPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("stored file not removed",
				logging.String(logging.FieldDocumentID, documentID),
				logging.String("path", doc.StoredPath),
				logging.Error(err))
		}
	}
	c.logger.Info("document deleted",
		logging.String(logging.FieldDocumentID, documentID),
		logging.String(logging.FieldEventType, "document_deleted"))

	if err := c.notifier.PropagateDelete(ctx, documentID); err != nil {
		// The local delete already committed; downstream stragglers clean
		// themselves up when their next origin callback returns 404.
		c.logger.Warn("deletion fan-out incomplete",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Error(err))
	}
	return nil
}

// DeleteLocal drops this stage's records for a document without fan-out,
// serving the internal deletion endpoint on downstream stages.
func (c *Coordinator) DeleteLocal(ctx context.Context, documentID string) error {
	return c.store.PurgeDocument(ctx, documentID)
}

// HandleStatusReport absorbs a stage callback on the origin: it records the
// fine-grained stage outcome, advances the coarse status, and chains the next
// stage when the reporting stage completed. Stale coarse transitions are
// logged and dropped; the stage record is written regardless.
func (c *Coordinator) HandleStatusReport(ctx context.Context, report notify.StatusReport) (*docstore.Document, error) {
	doc, err := c.store.GetDocument(ctx, report.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, docstore.ErrNotFound
	}

	reportStage, ok := docstore.ParseStage(report.Stage)
	if !ok {
		return doc, services.Wrap(services.ErrValidation, c.cfg.Stage, "status report",
			fmt.Sprintf("Unknown stage %q", report.Stage), nil)
	}
	state, ok := docstore.ParseStageState(report.State)
	if !ok {
		return doc, services.Wrap(services.ErrValidation, c.cfg.Stage, "status report",
			fmt.Sprintf("Unknown state %q", report.State), nil)
	}

	if err := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
		DocumentID:   doc.ID,
		Stage:        reportStage,
		State:        state,
		ErrorMessage: strings.TrimSpace(report.ErrorMessage),
	}); err != nil {
		return doc, err
	}

	var ev docstore.Event
	switch state {
	case docstore.StateProcessing:
		ev = docstore.Event{Kind: docstore.EventStageStarted, Stage: reportStage}
	case docstore.StateCompleted:
		ev = docstore.Event{Kind: docstore.EventStageCompleted, Stage: reportStage}
	case docstore.StateFailed:
		// A failed stage returns the document to its last known-good status
		// so a later retry can re-enter the pipeline cleanly.
		ev = docstore.Event{Kind: docstore.EventStageRolledBack, Stage: reportStage}
	}

	updated, err := c.store.ApplyEvent(ctx, doc.ID, ev)
	if errors.Is(err, docstore.ErrStaleTransition) {
		c.logger.Warn("dropping stale status callback",
			logging.String(logging.FieldDocumentID, doc.ID),
			logging.String(logging.FieldStage, string(reportStage)),
			logging.String("reported_state", string(state)),
			logging.String(logging.FieldEventType, "stale_callback_dropped"))
		return updated, nil
	}
	if err != nil {
		return updated, err
	}

	if state == docstore.StateCompleted {
		if next, ok := docstore.NextStage(reportStage); ok {
			c.spawn(ctx, func(bg context.Context) {
				if err := c.startStage(bg, doc.ID, next); err != nil {
					c.logger.Error("chained dispatch failed",
						logging.String(logging.FieldDocumentID, doc.ID),
						logging.String(logging.FieldStage, string(next)),
						logging.Error(err))
				}
			})
		}
	}
	return updated, nil
}

// ProcessLocal runs this instance's worker for a dispatched document and
// reports the outcome back to the origin. It serves the internal process
// endpoint on downstream stages.
func (c *Coordinator) ProcessLocal(ctx context.Context, req ProcessRequest) error {
	localStage := c.Stage()
	ctx = logging.WithDocument(logging.WithStage(ctx, string(localStage)), req.DocumentID)
	logger := logging.WithContext(ctx, c.logger)
	if aware, ok := c.handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	doc := &docstore.Document{
		ID:               req.DocumentID,
		OriginalFilename: req.OriginalFilename,
		StoredPath:       req.StoredPath,
		ContentType:      req.ContentType,
		SizeBytes:        req.SizeBytes,
	}

	if err := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
		DocumentID: req.DocumentID,
		Stage:      localStage,
		State:      docstore.StateProcessing,
	}); err != nil {
		return err
	}
	logger.Info("stage work started", logging.String(logging.FieldEventType, "stage_start"))

	if err := c.handler.Process(ctx, doc); err != nil {
		message := services.Details(err).Message
		if strings.TrimSpace(message) == "" {
			message = err.Error()
		}
		logger.Error("stage work failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Error(err))
		if recordErr := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
			DocumentID:   req.DocumentID,
			Stage:        localStage,
			State:        docstore.StateFailed,
			ErrorMessage: message,
		}); recordErr != nil {
			logger.Error("failed to persist stage failure", logging.Error(recordErr))
		}
		c.report(ctx, logger, req.DocumentID, localStage, docstore.StateFailed, message)
		return err
	}

	if err := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
		DocumentID: req.DocumentID,
		Stage:      localStage,
		State:      docstore.StateCompleted,
	}); err != nil {
		return err
	}
	logger.Info("stage work completed", logging.String(logging.FieldEventType, "stage_complete"))
	c.report(ctx, logger, req.DocumentID, localStage, docstore.StateCompleted, "")
	return nil
}

// ProcessLocalAsync runs ProcessLocal on a background goroutine. Errors are
// recorded in the store and reported to the origin inside ProcessLocal; the
// caller only needed acceptance.
func (c *Coordinator) ProcessLocalAsync(ctx context.Context, req ProcessRequest) {
	c.spawn(ctx, func(bg context.Context) {
		_ = c.ProcessLocal(bg, req)
	})
}

// Health reports the readiness of this stage instance.
func (c *Coordinator) Health(ctx context.Context) stage.Health {
	if c.handler == nil {
		return stage.Unhealthy(c.cfg.Stage, "no stage worker configured")
	}
	return c.handler.HealthCheck(ctx)
}

// startStage marks the document as processing at the target stage and
// dispatches it. The coarse status moves before the dispatch goes out, which
// is what makes a later failure expressible as processing -> failed.
func (c *Coordinator) startStage(ctx context.Context, documentID string, target docstore.Stage) error {
	doc, err := c.store.ApplyEvent(ctx, documentID, docstore.Event{Kind: docstore.EventStageStarted, Stage: target})
	if errors.Is(err, docstore.ErrStaleTransition) {
		c.logger.Warn("skipping dispatch for already-progressed document",
			logging.String(logging.FieldDocumentID, documentID),
			logging.String(logging.FieldStage, string(target)),
			logging.String(logging.FieldEventType, "dispatch_skipped"))
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
		DocumentID: documentID,
		Stage:      target,
		State:      docstore.StateProcessing,
	}); err != nil {
		return err
	}

	base := c.cfg.Stages.URL(string(target))
	if strings.TrimSpace(base) == "" {
		return c.failDispatch(ctx, documentID, target, 0, fmt.Sprintf("no URL configured for stage %s", target))
	}
	endpoint := fmt.Sprintf("%s/api/documents/%s/process-internal", strings.TrimRight(base, "/"), documentID)

	outcome, err := c.dispatcher.Dispatch(ctx, endpoint, ProcessRequest{
		DocumentID:       doc.ID,
		OriginalFilename: doc.OriginalFilename,
		StoredPath:       doc.StoredPath,
		ContentType:      doc.ContentType,
		SizeBytes:        doc.SizeBytes,
	})
	if err != nil {
		return err
	}
	if outcome.Success() {
		c.logger.Info("document dispatched",
			logging.String(logging.FieldDocumentID, documentID),
			logging.String(logging.FieldStage, string(target)),
			logging.Int("attempts", outcome.Attempts),
			logging.String(logging.FieldEventType, "dispatch_success"))
		return nil
	}

	detail := outcome.Detail
	if detail == "" {
		detail = fmt.Sprintf("stage returned HTTP %d", outcome.StatusCode)
	}
	return c.failDispatch(ctx, documentID, target, outcome.Attempts, detail)
}

func (c *Coordinator) failDispatch(ctx context.Context, documentID string, target docstore.Stage, attempts int, detail string) error {
	if _, err := c.store.ApplyEvent(ctx, documentID, docstore.Event{Kind: docstore.EventStageFailed, Stage: target}); err != nil && !errors.Is(err, docstore.ErrStaleTransition) {
		c.logger.Error("failed to record dispatch failure", logging.Error(err))
	}
	if err := c.store.UpsertStageStatus(ctx, &docstore.ProcessingStatus{
		DocumentID:   documentID,
		Stage:        target,
		State:        docstore.StateFailed,
		ErrorMessage: detail,
	}); err != nil {
		c.logger.Error("failed to record dispatch failure", logging.Error(err))
	}
	c.logger.Error("dispatch failed",
		logging.String(logging.FieldDocumentID, documentID),
		logging.String(logging.FieldStage, string(target)),
		logging.Int("attempts", attempts),
		logging.String("detail", detail),
		logging.String(logging.FieldEventType, "dispatch_failure"))
	return fmt.Errorf("dispatch %s to %s: %s", documentID, target, detail)
}

// report sends a stage outcome to the origin. A 404 means the document was
// deleted mid-flight; local records are discarded instead of retried.
func (c *Coordinator) report(ctx context.Context, logger *slog.Logger, documentID string, localStage docstore.Stage, state docstore.StageState, message string) {
	err := c.notifier.ReportStageStatus(ctx, documentID, localStage, state, message)
	if err == nil {
		return
	}
	if errors.Is(err, notify.ErrDocumentGone) {
		logger.Info("origin no longer knows document, discarding local records",
			logging.String(logging.FieldEventType, "orphan_discarded"))
		if purgeErr := c.store.PurgeDocument(ctx, documentID); purgeErr != nil {
			logger.Error("failed to discard orphaned records", logging.Error(purgeErr))
		}
		return
	}
	logger.Error("status report to origin failed", logging.Error(err))
}

// spawn runs fn on a background goroutine detached from the request's
// cancellation but still carrying its values.
func (c *Coordinator) spawn(ctx context.Context, fn func(context.Context)) {
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(bg)
	}()
}
