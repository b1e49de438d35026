package httpapi

import (
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health := s.coord.Health(r.Context())
	resp := HealthResponse{
		Status: "ok",
		Stage:  s.cfg.Stage,
		Ready:  health.Ready,
		Detail: health.Detail,
	}
	if !health.Ready {
		resp.Status = "degraded"
	}
	if summary, err := s.store.HealthSummary(r.Context()); err == nil && len(summary) > 0 {
		counts := make(map[string]int, len(summary))
		for status, count := range summary {
			counts[string(status)] = count
		}
		resp.Documents = counts
	}

	code := http.StatusOK
	if !health.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}
