package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chartflow/internal/config"
	"chartflow/internal/docstore"
)

const userAgent = "chartflow/0.1.0"

// ErrDocumentGone reports that the origin no longer knows the document; the
// caller should stop processing and discard local state instead of retrying.
var ErrDocumentGone = errors.New("document no longer exists at origin")

// Service defines the cross-stage call surface exposed to pipeline components.
type Service interface {
	// ReportStageStatus posts a stage outcome to the ingestion origin so the
	// central record reflects downstream progress.
	ReportStageStatus(ctx context.Context, documentID string, stage docstore.Stage, state docstore.StageState, errorMessage string) error
	// PropagateDelete asks every downstream stage to drop its copy of the
	// document. Per-stage failures are collected, not short-circuited.
	PropagateDelete(ctx context.Context, documentID string) error
}

// StatusReport is the JSON body posted to the origin's update endpoint.
type StatusReport struct {
	DocumentID   string `json:"document_id"`
	Stage        string `json:"stage"`
	State        string `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewService builds the HTTP-backed service. When no origin URL is configured
// (a standalone ingestion instance), a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	origin := strings.TrimSpace(cfg.Stages.IngestionURL)
	if origin == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Pipeline.StatusTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var downstream []string
	for _, stage := range []string{cfg.Stages.ParsingURL, cfg.Stages.StructuringURL, cfg.Stages.PredictionURL} {
		if trimmed := strings.TrimSpace(stage); trimmed != "" {
			downstream = append(downstream, trimmed)
		}
	}

	return &httpService{
		origin:     origin,
		downstream: downstream,
		client:     &http.Client{Timeout: timeout},
	}
}

type httpService struct {
	origin     string
	downstream []string
	client     *http.Client
}

func (h *httpService) ReportStageStatus(ctx context.Context, documentID string, stage docstore.Stage, state docstore.StageState, errorMessage string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("report status: document id required")
	}

	report := StatusReport{
		DocumentID:   documentID,
		Stage:        string(stage),
		State:        string(state),
		ErrorMessage: strings.TrimSpace(errorMessage),
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report status: encode body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/documents/%s/status/update-internal", strings.TrimRight(h.origin, "/"), documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report status: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	return h.send(req, "report status", false)
}

func (h *httpService) PropagateDelete(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("propagate delete: document id required")
	}

	var failures []string
	for _, base := range h.downstream {
		endpoint := fmt.Sprintf("%s/api/documents/%s/delete-internal", strings.TrimRight(base, "/"), documentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", base, err))
			continue
		}
		req.Header.Set("User-Agent", userAgent)
		if err := h.send(req, "propagate delete", true); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("propagate delete for %s: %s", documentID, strings.Join(failures, "; "))
	}
	return nil
}

func (h *httpService) send(req *http.Request, op string, tolerate404 bool) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		// For deletion fan-out a stage that never saw the document already
		// matches intent; for status reports the caller must stop work.
		if tolerate404 {
			return nil
		}
		return fmt.Errorf("%s: %w", op, ErrDocumentGone)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: %s returned %d: %s", op, req.URL.Host, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) ReportStageStatus(context.Context, string, docstore.Stage, docstore.StageState, string) error {
	return nil
}
func (noopService) PropagateDelete(context.Context, string) error { return nil }
