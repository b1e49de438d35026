package docstore

import (
	"database/sql"
	"fmt"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc         Document
		storedPath  sql.NullString
		contentType sql.NullString
		uploaderID  sql.NullString
		clinicName  sql.NullString
		patientID   sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(
		&doc.ID,
		&doc.OriginalFilename,
		&storedPath,
		&doc.SizeBytes,
		&contentType,
		&doc.Status,
		&uploaderID,
		&clinicName,
		&patientID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	doc.StoredPath = storedPath.String
	doc.ContentType = contentType.String
	doc.UploaderID = uploaderID.String
	doc.ClinicName = clinicName.String
	doc.PatientID = patientID.String

	var err error
	if doc.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanStatus(row rowScanner) (*ProcessingStatus, error) {
	var (
		status       ProcessingStatus
		errorMessage sql.NullString
		latest       int
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&status.ID,
		&status.DocumentID,
		&status.Stage,
		&status.State,
		&errorMessage,
		&latest,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan status: %w", err)
	}

	status.ErrorMessage = errorMessage.String
	status.Latest = latest == 1

	var err error
	if status.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, err
	}
	if status.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, err
	}
	return &status, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed.UTC(), nil
}
