package httpapi

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chartflow/internal/docstore"
	"chartflow/internal/logging"
	"chartflow/internal/textutil"
)

const mib = 1 << 20

type uploadMeta struct {
	UploaderID string
	ClinicName string
	PatientID  string
}

// handleUpload accepts a single clinical document as multipart form data.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Upload.MaxFileMiB) * mib
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+mib)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	meta := uploadMeta{
		UploaderID: strings.TrimSpace(r.FormValue("uploader_id")),
		ClinicName: strings.TrimSpace(r.FormValue("clinic_name")),
		PatientID:  strings.TrimSpace(r.FormValue("patient_id")),
	}

	doc, err := s.storeUpload(file, header.Filename, header.Size, meta)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.Intake(r.Context(), doc); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, UploadResponse{Document: viewOf(doc)})
}

// handleBulkUpload accepts several documents at once: repeated file parts,
// with zip archives expanded into their entries. Intake is atomic; dispatch
// fans out in the background.
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	maxBytes := int64(s.cfg.Upload.MaxZipMiB) * mib
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+mib)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	meta := uploadMeta{
		UploaderID: strings.TrimSpace(r.FormValue("uploader_id")),
		ClinicName: strings.TrimSpace(r.FormValue("clinic_name")),
		PatientID:  strings.TrimSpace(r.FormValue("patient_id")),
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		s.writeError(w, http.StatusBadRequest, "missing files field")
		return
	}

	var docs []*docstore.Document
	cleanup := func() {
		for _, doc := range docs {
			_ = os.Remove(doc.StoredPath)
		}
	}

	for _, header := range parts {
		file, err := header.Open()
		if err != nil {
			cleanup()
			s.writeError(w, http.StatusBadRequest, "read upload part: "+err.Error())
			return
		}

		if strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
			expanded, zipErr := s.expandZip(file, header.Filename, meta)
			file.Close()
			if zipErr != nil {
				cleanup()
				s.writeError(w, http.StatusBadRequest, zipErr.Error())
				return
			}
			docs = append(docs, expanded...)
			continue
		}

		doc, storeErr := s.storeUpload(file, header.Filename, header.Size, meta)
		file.Close()
		if storeErr != nil {
			cleanup()
			s.writeError(w, http.StatusBadRequest, storeErr.Error())
			return
		}
		docs = append(docs, doc)
	}

	if err := s.coord.IntakeBulk(r.Context(), docs); err != nil {
		cleanup()
		s.writeServiceError(w, err)
		return
	}

	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, viewOf(doc))
	}
	s.writeJSON(w, http.StatusAccepted, BulkUploadResponse{Documents: views, Accepted: len(views)})
}

// storeUpload validates one incoming file and writes it into storage.
func (s *Server) storeUpload(file io.Reader, filename string, size int64, meta uploadMeta) (*docstore.Document, error) {
	filename = textutil.SanitizeFileName(filepath.Base(strings.TrimSpace(filename)))
	if filename == "" || filename == "." {
		return nil, fmt.Errorf("upload has no filename")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.extensionAllowed(ext) || ext == ".zip" {
		return nil, fmt.Errorf("file type %q is not accepted", ext)
	}
	maxBytes := int64(s.cfg.Upload.MaxFileMiB) * mib
	if size > maxBytes {
		return nil, fmt.Errorf("file %s exceeds the %d MiB limit", filename, s.cfg.Upload.MaxFileMiB)
	}

	doc := docstore.NewDocument(filename)
	doc.UploaderID = meta.UploaderID
	doc.ClinicName = meta.ClinicName
	doc.PatientID = meta.PatientID
	doc.ContentType = contentTypeFor(ext)

	target := filepath.Join(s.cfg.Paths.StorageDir, doc.ID+ext)
	out, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	written, err := io.Copy(out, io.LimitReader(file, maxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if written > maxBytes {
		_ = os.Remove(target)
		return nil, fmt.Errorf("file %s exceeds the %d MiB limit", filename, s.cfg.Upload.MaxFileMiB)
	}

	doc.StoredPath = target
	doc.SizeBytes = written
	s.logger.Debug("upload stored",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String("path", target),
		logging.String("uploader", textutil.SanitizeToken(meta.UploaderID)),
		logging.Int64("size_bytes", written))
	return doc, nil
}

// expandZip stores every accepted entry of a zip archive as its own document.
func (s *Server) expandZip(file multipart.File, archiveName string, meta uploadMeta) ([]*docstore.Document, error) {
	raw, err := io.ReadAll(io.LimitReader(file, int64(s.cfg.Upload.MaxZipMiB)*mib+1))
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", archiveName, err)
	}
	if int64(len(raw)) > int64(s.cfg.Upload.MaxZipMiB)*mib {
		return nil, fmt.Errorf("archive %s exceeds the %d MiB limit", archiveName, s.cfg.Upload.MaxZipMiB)
	}
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archiveName, err)
	}

	var docs []*docstore.Document
	cleanup := func() {
		for _, doc := range docs {
			_ = os.Remove(doc.StoredPath)
		}
	}
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		entryFile, err := entry.Open()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}
		doc, storeErr := s.storeUpload(entryFile, entry.Name, int64(entry.UncompressedSize64), meta)
		entryFile.Close()
		if storeErr != nil {
			cleanup()
			return nil, fmt.Errorf("archive %s: %w", archiveName, storeErr)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("archive %s contains no accepted documents", archiveName)
	}
	return docs, nil
}

func (s *Server) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tiff", ".tif":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
