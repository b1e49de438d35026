package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chartflow/internal/config"
	"chartflow/internal/dispatch"
	"chartflow/internal/docstore"
	"chartflow/internal/httpapi"
	"chartflow/internal/notify"
	"chartflow/internal/pipeline"
	"chartflow/internal/stage"
	"chartflow/internal/testsupport"
)

type testEnv struct {
	cfg   *config.Config
	store *docstore.Store
	coord *pipeline.Coordinator
	srv   *httpapi.Server
}

func newTestEnv(t *testing.T, opts ...testsupport.ConfigOption) *testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	handler := stage.Func{Name: cfg.Stage, Fn: func(context.Context, *docstore.Document) error { return nil }}
	coord := pipeline.New(cfg, store, noopNotifier{}, handler, nil,
		pipeline.WithDispatcher(dispatch.NewClient(cfg, dispatch.WithSleeper(func(time.Duration) {}))))
	return &testEnv{
		cfg:   cfg,
		store: store,
		coord: coord,
		srv:   httpapi.New(cfg, store, coord, nil),
	}
}

type noopNotifier struct{}

func (noopNotifier) ReportStageStatus(context.Context, string, docstore.Stage, docstore.StageState, string) error {
	return nil
}
func (noopNotifier) PropagateDelete(context.Context, string) error { return nil }

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, field, filename string, content []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for key, value := range extra {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadCreatesDocument(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t, "file", "intake-note.pdf", []byte("%PDF-1.4 test"), map[string]string{
		"uploader_id": "clinic-12",
		"clinic_name": "Harborview",
	})

	rec := env.do(t, http.MethodPost, "/api/documents", body, contentType)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp httpapi.UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Document.Status != "uploaded" || resp.Document.OriginalFilename != "intake-note.pdf" {
		t.Fatalf("document = %+v", resp.Document)
	}
	if resp.Document.UploaderID != "clinic-12" {
		t.Fatalf("uploader = %q", resp.Document.UploaderID)
	}

	stored, err := env.store.GetDocument(context.Background(), resp.Document.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetDocument: %v, %v", stored, err)
	}
	if stored.SizeBytes != int64(len("%PDF-1.4 test")) {
		t.Fatalf("size = %d", stored.SizeBytes)
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t, "file", "malware.exe", []byte("MZ"), nil)

	rec := env.do(t, http.MethodPost, "/api/documents", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ".exe") {
		t.Fatalf("error should name the extension: %s", rec.Body.String())
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Upload.MaxFileMiB = 1
	big := bytes.Repeat([]byte("x"), 1<<20+1)
	body, contentType := multipartUpload(t, "file", "huge.pdf", big, nil)

	rec := env.do(t, http.MethodPost, "/api/documents", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAndGetDocuments(t *testing.T) {
	env := newTestEnv(t)
	doc := testsupport.NewDocument(t, env.store, "a.pdf")

	rec := env.do(t, http.MethodGet, "/api/documents?page=1&limit=10", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list httpapi.ListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Documents) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/documents/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/documents?status=bogus", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d, want 400", rec.Code)
	}
}

func TestDocumentStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	doc := testsupport.NewDocument(t, env.store, "a.pdf")

	rec := env.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp httpapi.DocumentStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Document.Status != "uploaded" {
		t.Fatalf("document status = %s", resp.Document.Status)
	}
	if len(resp.Stages) != 1 || resp.Stages[0].Stage != "ingestion" || resp.Stages[0].State != "completed" {
		t.Fatalf("stages = %+v", resp.Stages)
	}
}

func TestStatusUpdateInternalIdempotentAndOrdered(t *testing.T) {
	env := newTestEnv(t)
	doc := testsupport.NewDocument(t, env.store, "a.pdf")
	ctx := context.Background()
	if _, err := env.store.ApplyEvent(ctx, doc.ID, docstore.Event{Kind: docstore.EventStageStarted, Stage: docstore.StageParsing}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report := func(state string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(notify.StatusReport{DocumentID: doc.ID, Stage: "parsing", State: state})
		return env.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/status/update-internal", bytes.NewReader(payload), "application/json")
	}

	rec := report("completed")
	if rec.Code != http.StatusOK {
		t.Fatalf("first callback = %d", rec.Code)
	}
	var view httpapi.DocumentView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "parsed" {
		t.Fatalf("status = %s, want parsed", view.Status)
	}

	// Replay returns 200 and leaves the status alone.
	rec = report("completed")
	if rec.Code != http.StatusOK {
		t.Fatalf("replay = %d", rec.Code)
	}

	// A late failure report after completion is dropped, still 200.
	rec = report("failed")
	if rec.Code != http.StatusOK {
		t.Fatalf("stale failure = %d", rec.Code)
	}
	fetched, _ := env.store.GetDocument(ctx, doc.ID)
	if fetched.Status != docstore.StatusParsed {
		t.Fatalf("status after stale = %s", fetched.Status)
	}
}

func TestStatusUpdateInternalUnknownDocument(t *testing.T) {
	env := newTestEnv(t)
	payload, _ := json.Marshal(notify.StatusReport{DocumentID: "ghost", Stage: "parsing", State: "completed"})
	rec := env.do(t, http.MethodPost, "/api/documents/ghost/status/update-internal", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for deleted document", rec.Code)
	}
}

func TestStatusPatchInternal(t *testing.T) {
	env := newTestEnv(t)
	doc := testsupport.NewDocument(t, env.store, "a.pdf")

	patch := func(status string) *httptest.ResponseRecorder {
		payload := []byte(`{"status":"` + status + `"}`)
		return env.do(t, http.MethodPatch, "/api/documents/"+doc.ID+"/status-internal", bytes.NewReader(payload), "application/json")
	}

	rec := patch("parsed")
	if rec.Code != http.StatusOK {
		t.Fatalf("forward patch = %d", rec.Code)
	}
	var view httpapi.DocumentView
	_ = json.NewDecoder(rec.Body).Decode(&view)
	if view.Status != "parsed" {
		t.Fatalf("status = %s", view.Status)
	}

	// Regression attempt is dropped, response carries the surviving status.
	rec = patch("uploaded")
	if rec.Code != http.StatusOK {
		t.Fatalf("stale patch = %d", rec.Code)
	}
	_ = json.NewDecoder(rec.Body).Decode(&view)
	if view.Status != "parsed" {
		t.Fatalf("status after stale patch = %s", view.Status)
	}

	rec = patch("archived")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status patch = %d, want 400", rec.Code)
	}

	payload := []byte(`{"status":"parsed"}`)
	rec = env.do(t, http.MethodPatch, "/api/documents/ghost/status-internal", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown doc patch = %d, want 404", rec.Code)
	}
}

func TestDeleteInternalIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testsupport.WithStage("parsing"))
	rec := env.do(t, http.MethodDelete, "/api/documents/never-seen/delete-internal", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unseen document", rec.Code)
	}
}

func TestProcessInternalAcceptsAndRuns(t *testing.T) {
	env := newTestEnv(t, testsupport.WithStage("parsing"))
	payload, _ := json.Marshal(pipeline.ProcessRequest{DocumentID: "doc-1", OriginalFilename: "a.pdf"})

	rec := env.do(t, http.MethodPost, "/api/documents/doc-1/process-internal", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	env.coord.Wait()

	statuses, err := env.store.LatestStageStatuses(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("LatestStageStatuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != docstore.StateCompleted {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestProcessInternalRejectsMismatchedID(t *testing.T) {
	env := newTestEnv(t, testsupport.WithStage("parsing"))
	payload, _ := json.Marshal(pipeline.ProcessRequest{DocumentID: "other", OriginalFilename: "a.pdf"})
	rec := env.do(t, http.MethodPost, "/api/documents/doc-1/process-internal", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublicEndpointsHiddenOffOrigin(t *testing.T) {
	env := newTestEnv(t, testsupport.WithStage("structuring"))

	rec := env.do(t, http.MethodGet, "/api/documents", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("list off origin = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/documents/abc/process", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("process off origin = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	testsupport.NewDocument(t, env.store, "a.pdf")

	rec := env.do(t, http.MethodGet, "/api/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp httpapi.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Ready || resp.Stage != "ingestion" {
		t.Fatalf("health = %+v", resp)
	}
	if resp.Documents["uploaded"] != 1 {
		t.Fatalf("documents = %+v", resp.Documents)
	}
}

func TestBulkUploadAcceptsMultipleFiles(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range []string{"one.pdf", "two.pdf", "three.txt"} {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte("content of " + name)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/documents/bulk", &buf, writer.FormDataContentType())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp httpapi.BulkUploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Accepted != 3 {
		t.Fatalf("accepted = %d, want 3", resp.Accepted)
	}
	env.coord.Wait()

	_, total, err := env.store.ListDocuments(context.Background(), docstore.ListOptions{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
}
