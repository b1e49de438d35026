package httpapi

import (
	"time"

	"chartflow/internal/docstore"
)

// DocumentView is the wire representation of a document record.
type DocumentView struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"size_bytes"`
	ContentType      string    `json:"content_type,omitempty"`
	Status           string    `json:"status"`
	UploaderID       string    `json:"uploader_id,omitempty"`
	ClinicName       string    `json:"clinic_name,omitempty"`
	PatientID        string    `json:"patient_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StageStatusView is the wire representation of one stage outcome.
type StageStatusView struct {
	Stage        string    `json:"stage"`
	State        string    `json:"state"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentStatusResponse carries the coarse status plus per-stage detail.
type DocumentStatusResponse struct {
	Document DocumentView      `json:"document"`
	Stages   []StageStatusView `json:"stages"`
}

// ListResponse is a paginated document listing.
type ListResponse struct {
	Documents []DocumentView `json:"documents"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	Limit     int            `json:"limit"`
}

// UploadResponse confirms a single-document intake.
type UploadResponse struct {
	Document DocumentView `json:"document"`
}

// BulkUploadResponse confirms a batch intake. Dispatch runs in the
// background; the response reflects intake only.
type BulkUploadResponse struct {
	Documents []DocumentView `json:"documents"`
	Accepted  int            `json:"accepted"`
}

// HealthResponse reports instance readiness and document counts per status.
type HealthResponse struct {
	Status    string         `json:"status"`
	Stage     string         `json:"stage"`
	Ready     bool           `json:"ready"`
	Detail    string         `json:"detail,omitempty"`
	Documents map[string]int `json:"documents,omitempty"`
}

func viewOf(doc *docstore.Document) DocumentView {
	return DocumentView{
		ID:               doc.ID,
		OriginalFilename: doc.OriginalFilename,
		SizeBytes:        doc.SizeBytes,
		ContentType:      doc.ContentType,
		Status:           string(doc.Status),
		UploaderID:       doc.UploaderID,
		ClinicName:       doc.ClinicName,
		PatientID:        doc.PatientID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func statusViewsOf(statuses []*docstore.ProcessingStatus) []StageStatusView {
	views := make([]StageStatusView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, StageStatusView{
			Stage:        string(st.Stage),
			State:        string(st.State),
			ErrorMessage: st.ErrorMessage,
			UpdatedAt:    st.UpdatedAt,
		})
	}
	return views
}
