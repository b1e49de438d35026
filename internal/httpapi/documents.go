package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"chartflow/internal/docstore"
	"chartflow/internal/logging"
)

// handleDocuments serves the collection endpoints: upload and listing.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.isOrigin() {
		s.writeError(w, http.StatusNotFound, "endpoint served by the ingestion origin")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := docstore.ListOptions{
		UploaderID: strings.TrimSpace(query.Get("uploader_id")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := docstore.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status filter "+strconv.Quote(raw))
			return
		}
		opts.Status = status
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil {
		opts.Page = page
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		opts.Limit = limit
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 || opts.Limit > 100 {
		opts.Limit = 10
	}

	docs, total, err := s.store.ListDocuments(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, viewOf(doc))
	}
	s.writeJSON(w, http.StatusOK, ListResponse{
		Documents: views,
		Total:     total,
		Page:      opts.Page,
		Limit:     opts.Limit,
	})
}

// handleDocument serves GET and DELETE on a single document.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	if !s.isOrigin() {
		s.writeError(w, http.StatusNotFound, "endpoint served by the ingestion origin")
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.store.GetDocument(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if doc == nil {
			s.writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.writeJSON(w, http.StatusOK, viewOf(doc))
	case http.MethodDelete:
		if err := s.coord.Delete(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	doc, err := s.coord.Process(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.logger.Info("processing triggered",
		logging.String(logging.FieldDocumentID, id),
		logging.String(logging.FieldEventType, "process_requested"))
	s.writeJSON(w, http.StatusAccepted, viewOf(doc))
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	doc, err := s.coord.Resubmit(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, viewOf(doc))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if doc == nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	statuses, err := s.store.LatestStageStatuses(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DocumentStatusResponse{
		Document: viewOf(doc),
		Stages:   statusViewsOf(statuses),
	})
}
