package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chartflow/internal/config"
	"chartflow/internal/dispatch"
	"chartflow/internal/docstore"
	"chartflow/internal/notify"
	"chartflow/internal/pipeline"
	"chartflow/internal/stage"
	"chartflow/internal/testsupport"
)

type recordedReport struct {
	DocumentID string
	Stage      docstore.Stage
	State      docstore.StageState
	Message    string
}

type fakeNotifier struct {
	mu        sync.Mutex
	reports   []recordedReport
	deletes   []string
	reportErr error
}

func (f *fakeNotifier) ReportStageStatus(_ context.Context, documentID string, st docstore.Stage, state docstore.StageState, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, recordedReport{documentID, st, state, message})
	return f.reportErr
}

func (f *fakeNotifier) PropagateDelete(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentID)
	return nil
}

func (f *fakeNotifier) recorded() []recordedReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedReport(nil), f.reports...)
}

func noWaitDispatcher(t *testing.T, cfg *config.Config) *dispatch.Client {
	t.Helper()
	return dispatch.NewClient(cfg, dispatch.WithSleeper(func(time.Duration) {}))
}

func okHandler() stage.Handler {
	return stage.Func{Name: "test", Fn: func(context.Context, *docstore.Document) error { return nil }}
}

func TestProcessDispatchesToParsing(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotBody  pipeline.ProcessRequest
		received = make(chan struct{})
	)
	parsing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		close(received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer parsing.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithStageURL("parsing", parsing.URL))
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil,
		pipeline.WithDispatcher(noWaitDispatcher(t, cfg)))

	doc := testsupport.NewDocument(t, store, "visit-notes.pdf")
	if _, err := coord.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	coord.Wait()

	select {
	case <-received:
	default:
		t.Fatal("parsing stage never received the dispatch")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/documents/"+doc.ID+"/process-internal" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotBody.DocumentID != doc.ID || gotBody.OriginalFilename != "visit-notes.pdf" {
		t.Fatalf("body = %+v", gotBody)
	}

	fetched, err := store.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if fetched.Status != docstore.StatusParsing {
		t.Fatalf("status = %s, want parsing", fetched.Status)
	}
}

func TestProcessUnknownDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil)

	if _, err := coord.Process(context.Background(), "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDispatchExhaustionMarksFailed(t *testing.T) {
	parsing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer parsing.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithStageURL("parsing", parsing.URL))
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil,
		pipeline.WithDispatcher(noWaitDispatcher(t, cfg)))

	doc := testsupport.NewDocument(t, store, "a.pdf")
	if _, err := coord.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	coord.Wait()

	fetched, err := store.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if fetched.Status != docstore.StatusFailed {
		t.Fatalf("status = %s, want failed", fetched.Status)
	}

	statuses, err := store.LatestStageStatuses(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("LatestStageStatuses: %v", err)
	}
	var parsingRecord *docstore.ProcessingStatus
	for _, st := range statuses {
		if st.Stage == docstore.StageParsing {
			parsingRecord = st
		}
	}
	if parsingRecord == nil || parsingRecord.State != docstore.StateFailed {
		t.Fatalf("parsing record = %+v, want failed", parsingRecord)
	}
	if parsingRecord.ErrorMessage == "" {
		t.Fatal("failure record should carry a detail message")
	}
}

func TestStatusReportCompletedChainsNextStage(t *testing.T) {
	dispatched := make(chan string, 1)
	structuring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatched <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer structuring.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithStageURL("structuring", structuring.URL))
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil,
		pipeline.WithDispatcher(noWaitDispatcher(t, cfg)))

	doc := testsupport.NewDocument(t, store, "a.pdf")
	ctx := context.Background()
	if _, err := store.ApplyEvent(ctx, doc.ID, docstore.Event{Kind: docstore.EventStageStarted, Stage: docstore.StageParsing}); err != nil {
		t.Fatalf("seed parsing: %v", err)
	}

	updated, err := coord.HandleStatusReport(ctx, notify.StatusReport{
		DocumentID: doc.ID,
		Stage:      "parsing",
		State:      "completed",
	})
	if err != nil {
		t.Fatalf("HandleStatusReport: %v", err)
	}
	coord.Wait()

	// Chained dispatch moved the document past parsed into structuring.
	fetched, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if fetched.Status != docstore.StatusStructuring {
		t.Fatalf("status = %s, want structuring", fetched.Status)
	}
	if updated.Status != docstore.StatusParsed {
		t.Fatalf("callback response status = %s, want parsed", updated.Status)
	}
	select {
	case path := <-dispatched:
		if path != "/api/documents/"+doc.ID+"/process-internal" {
			t.Fatalf("chained path = %s", path)
		}
	default:
		t.Fatal("structuring stage never received the chained dispatch")
	}
}

func TestStatusReportFailureRollsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil)

	doc := testsupport.NewDocument(t, store, "a.pdf")
	ctx := context.Background()
	if _, err := store.ApplyEvent(ctx, doc.ID, docstore.Event{Kind: docstore.EventStageStarted, Stage: docstore.StageParsing}); err != nil {
		t.Fatalf("seed parsing: %v", err)
	}

	updated, err := coord.HandleStatusReport(ctx, notify.StatusReport{
		DocumentID:   doc.ID,
		Stage:        "parsing",
		State:        "failed",
		ErrorMessage: "corrupt page stream",
	})
	if err != nil {
		t.Fatalf("HandleStatusReport: %v", err)
	}
	if updated.Status != docstore.StatusUploaded {
		t.Fatalf("status = %s, want uploaded after rollback", updated.Status)
	}

	statuses, err := store.LatestStageStatuses(ctx, doc.ID)
	if err != nil {
		t.Fatalf("LatestStageStatuses: %v", err)
	}
	for _, st := range statuses {
		if st.Stage == docstore.StageParsing {
			if st.State != docstore.StateFailed || st.ErrorMessage != "corrupt page stream" {
				t.Fatalf("parsing record = %+v", st)
			}
			return
		}
	}
	t.Fatal("missing parsing record")
}

func TestStatusReportStaleCallbackDroppedButRecorded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil)

	doc := testsupport.NewDocument(t, store, "a.pdf")
	ctx := context.Background()
	for _, ev := range []docstore.Event{
		{Kind: docstore.EventStageStarted, Stage: docstore.StageParsing},
		{Kind: docstore.EventStageCompleted, Stage: docstore.StageParsing},
		{Kind: docstore.EventStageStarted, Stage: docstore.StageStructuring},
		{Kind: docstore.EventStageCompleted, Stage: docstore.StageStructuring},
	} {
		if _, err := store.ApplyEvent(ctx, doc.ID, ev); err != nil {
			t.Fatalf("seed %v: %v", ev, err)
		}
	}

	// Late duplicate callback from parsing: no error, no coarse change.
	updated, err := coord.HandleStatusReport(ctx, notify.StatusReport{
		DocumentID: doc.ID,
		Stage:      "parsing",
		State:      "failed",
	})
	if err != nil {
		t.Fatalf("HandleStatusReport: %v", err)
	}
	if updated.Status != docstore.StatusStructured {
		t.Fatalf("status = %s, want structured", updated.Status)
	}
}

func TestStatusReportUnknownDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil)

	_, err := coord.HandleStatusReport(context.Background(), notify.StatusReport{
		DocumentID: "ghost",
		Stage:      "parsing",
		State:      "completed",
	})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestProcessLocalReportsCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStage("parsing"))
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &fakeNotifier{}
	coord := pipeline.New(cfg, store, notifier, okHandler(), nil)

	err := coord.ProcessLocal(context.Background(), pipeline.ProcessRequest{
		DocumentID:       "doc-1",
		OriginalFilename: "a.pdf",
	})
	if err != nil {
		t.Fatalf("ProcessLocal: %v", err)
	}

	reports := notifier.recorded()
	if len(reports) != 1 {
		t.Fatalf("reports = %+v, want one", reports)
	}
	if reports[0].Stage != docstore.StageParsing || reports[0].State != docstore.StateCompleted {
		t.Fatalf("report = %+v", reports[0])
	}

	statuses, err := store.LatestStageStatuses(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("LatestStageStatuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != docstore.StateCompleted {
		t.Fatalf("local records = %+v", statuses)
	}
}

func TestProcessLocalFailureReportsAndRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStage("structuring"))
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &fakeNotifier{}
	failing := stage.Func{Name: "structuring", Fn: func(context.Context, *docstore.Document) error {
		return errors.New("section headers missing")
	}}
	coord := pipeline.New(cfg, store, notifier, failing, nil)

	err := coord.ProcessLocal(context.Background(), pipeline.ProcessRequest{
		DocumentID:       "doc-2",
		OriginalFilename: "b.pdf",
	})
	if err == nil {
		t.Fatal("expected worker error to surface")
	}

	reports := notifier.recorded()
	if len(reports) != 1 || reports[0].State != docstore.StateFailed {
		t.Fatalf("reports = %+v", reports)
	}
	if reports[0].Message != "section headers missing" {
		t.Fatalf("message = %q", reports[0].Message)
	}
}

func TestProcessLocalDiscardsOrphanOnDocumentGone(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStage("prediction"))
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &fakeNotifier{reportErr: notify.ErrDocumentGone}
	coord := pipeline.New(cfg, store, notifier, okHandler(), nil)

	if err := coord.ProcessLocal(context.Background(), pipeline.ProcessRequest{
		DocumentID:       "doc-3",
		OriginalFilename: "c.pdf",
	}); err != nil {
		t.Fatalf("ProcessLocal: %v", err)
	}

	history, err := store.StageStatusHistory(context.Background(), "doc-3")
	if err != nil {
		t.Fatalf("StageStatusHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected local records discarded, got %d", len(history))
	}
}

func TestResubmitOnlyFromFailed(t *testing.T) {
	parsing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer parsing.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithStageURL("parsing", parsing.URL))
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil,
		pipeline.WithDispatcher(noWaitDispatcher(t, cfg)))

	doc := testsupport.NewDocument(t, store, "a.pdf")
	ctx := context.Background()

	if _, err := coord.Resubmit(ctx, doc.ID); err == nil {
		t.Fatal("expected resubmit of an uploaded document to fail")
	}

	for _, ev := range []docstore.Event{
		{Kind: docstore.EventStageStarted, Stage: docstore.StageParsing},
		{Kind: docstore.EventStageFailed, Stage: docstore.StageParsing},
	} {
		if _, err := store.ApplyEvent(ctx, doc.ID, ev); err != nil {
			t.Fatalf("seed %v: %v", ev, err)
		}
	}

	updated, err := coord.Resubmit(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	coord.Wait()
	if updated.Status != docstore.StatusUploaded {
		t.Fatalf("status after resubmit = %s, want uploaded", updated.Status)
	}

	fetched, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if fetched.Status != docstore.StatusParsing {
		t.Fatalf("status after redispatch = %s, want parsing", fetched.Status)
	}
}

func TestDeleteFansOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &fakeNotifier{}
	coord := pipeline.New(cfg, store, notifier, okHandler(), nil)

	doc := testsupport.NewDocument(t, store, "a.pdf")
	if err := coord.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(notifier.deletes) != 1 || notifier.deletes[0] != doc.ID {
		t.Fatalf("fan-out deletes = %v", notifier.deletes)
	}
	if err := coord.Delete(context.Background(), doc.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestIntakeBulkDispatchesAllDocuments(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  = map[string]bool{}
		calls int
	)
	parsing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.ProcessRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen[req.DocumentID] = true
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer parsing.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithStageURL("parsing", parsing.URL),
		testsupport.WithPipeline(func(p *config.Pipeline) {
			p.BatchSize = 4
			p.MaxConcurrent = 2
			p.BatchDelay = 0
		}))
	store := testsupport.MustOpenStore(t, cfg)
	coord := pipeline.New(cfg, store, &fakeNotifier{}, okHandler(), nil,
		pipeline.WithDispatcher(noWaitDispatcher(t, cfg)))

	docs := make([]*docstore.Document, 10)
	for i := range docs {
		docs[i] = docstore.NewDocument("bulk.pdf")
	}
	if err := coord.IntakeBulk(context.Background(), docs); err != nil {
		t.Fatalf("IntakeBulk: %v", err)
	}
	coord.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 10 || len(seen) != 10 {
		t.Fatalf("dispatches = %d (unique %d), want 10", calls, len(seen))
	}
	for _, doc := range docs {
		if !seen[doc.ID] {
			t.Fatalf("document %s never dispatched", doc.ID)
		}
	}
}
