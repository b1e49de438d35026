package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chartflow/internal/config"
	"chartflow/internal/docstore"
	"chartflow/internal/logging"
	"chartflow/internal/pipeline"
	"chartflow/internal/services"
)

// Server hosts the stage instance's HTTP endpoints.
type Server struct {
	cfg    *config.Config
	store  *docstore.Store
	coord  *pipeline.Coordinator
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New wires the route table for a stage instance. The public document surface
// is registered only on the ingestion origin; internal endpoints are served
// everywhere.
func New(cfg *config.Config, store *docstore.Store, coord *pipeline.Coordinator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		coord:  coord,
		logger: logging.NewComponentLogger(logger, "httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/documents", s.handleDocuments)
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving on the configured bind address and shuts down when
// ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldStage, s.cfg.Stage))
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) isOrigin() bool {
	return strings.EqualFold(strings.TrimSpace(s.cfg.Stage), string(docstore.StageIngestion))
}

// handleDocumentRoutes fans /api/documents/{id}[/...] out to the per-document
// handlers. Internal routes are available on every stage; the rest only on
// the origin.
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if parts[0] == "bulk" && len(parts) == 1 {
		s.requireOrigin(w, r, func() { s.handleBulkUpload(w, r) })
		return
	}
	id := parts[0]
	ctx := logging.WithDocument(r.Context(), id)
	r = r.WithContext(ctx)

	switch {
	case len(parts) == 1:
		s.handleDocument(w, r, id)
	case len(parts) == 2 && parts[1] == "process":
		s.requireOrigin(w, r, func() { s.handleProcess(w, r, id) })
	case len(parts) == 2 && parts[1] == "resubmit":
		s.requireOrigin(w, r, func() { s.handleResubmit(w, r, id) })
	case len(parts) == 2 && parts[1] == "status":
		s.requireOrigin(w, r, func() { s.handleStatus(w, r, id) })
	case len(parts) == 2 && parts[1] == "process-internal":
		s.handleProcessInternal(w, r, id)
	case len(parts) == 3 && parts[1] == "status" && parts[2] == "update-internal":
		s.handleStatusUpdateInternal(w, r, id)
	case len(parts) == 2 && parts[1] == "status-internal":
		s.handleStatusPatchInternal(w, r, id)
	case len(parts) == 2 && parts[1] == "delete-internal":
		s.handleDeleteInternal(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown document route")
	}
}

func (s *Server) requireOrigin(w http.ResponseWriter, _ *http.Request, fn func()) {
	if !s.isOrigin() {
		s.writeError(w, http.StatusNotFound, "endpoint served by the ingestion origin")
		return
	}
	fn()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, services.Details(err).Message)
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
