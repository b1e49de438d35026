package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chartflow/internal/docstore"
	"chartflow/internal/logging"
	"chartflow/internal/notify"
	"chartflow/internal/pipeline"
)

// handleProcessInternal accepts a dispatched document from the previous
// stage. The response confirms acceptance only; the work runs in the
// background and the outcome travels back through the status callback.
func (s *Server) handleProcessInternal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req pipeline.ProcessRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid dispatch payload: "+err.Error())
			return
		}
	}
	if req.DocumentID == "" {
		req.DocumentID = id
	}
	if req.DocumentID != id {
		s.writeError(w, http.StatusBadRequest, "document id in path and body disagree")
		return
	}
	if strings.TrimSpace(req.OriginalFilename) == "" {
		s.writeError(w, http.StatusBadRequest, "original_filename is required")
		return
	}

	s.coord.ProcessLocalAsync(r.Context(), req)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": id,
		"stage":       s.cfg.Stage,
		"accepted":    "true",
	})
}

// handleStatusUpdateInternal absorbs a stage callback on the origin. The
// endpoint is idempotent: replays and stale callbacks still return 200 with
// the current record. Only a structurally invalid report or an unknown
// document fails.
func (s *Server) handleStatusUpdateInternal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var report notify.StatusReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid status report: "+err.Error())
		return
	}
	if report.DocumentID == "" {
		report.DocumentID = id
	}
	if report.DocumentID != id {
		s.writeError(w, http.StatusBadRequest, "document id in path and body disagree")
		return
	}

	doc, err := s.coord.HandleStatusReport(r.Context(), report)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(doc))
}

// handleStatusPatchInternal applies a direct coarse-status patch. Transitions
// that would regress progress are dropped; the response carries whatever
// status survived.
func (s *Server) handleStatusPatchInternal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid status patch: "+err.Error())
		return
	}
	target, ok := docstore.ParseStatus(body.Status)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown status "+body.Status)
		return
	}

	doc, err := s.store.PatchStatus(r.Context(), id, target)
	if errors.Is(err, docstore.ErrStaleTransition) {
		s.logger.Warn("dropping stale status patch",
			logging.String(logging.FieldDocumentID, id),
			logging.String("requested_status", string(target)),
			logging.String(logging.FieldEventType, "stale_patch_dropped"))
		s.writeJSON(w, http.StatusOK, viewOf(doc))
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(doc))
}

// handleDeleteInternal drops this stage's records for a document. Deleting a
// document the stage never saw still succeeds; the end state matches intent.
func (s *Server) handleDeleteInternal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.coord.DeleteLocal(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
