package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const documentColumns = "id, original_filename, stored_path, size_bytes, content_type, status, uploader_id, clinic_name, patient_id, created_at, updated_at"

// CreateDocument persists a new document in the uploaded state together with
// the initial ingestion status record, in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	return s.createDocuments(ctx, []*Document{doc})
}

// CreateDocuments persists a batch of documents atomically; bulk intake
// commits all records before any dispatch starts.
func (s *Store) CreateDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.createDocuments(ctx, docs)
}

func (s *Store) createDocuments(ctx context.Context, docs []*Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin intake tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	for _, doc := range docs {
		if doc == nil {
			return errors.New("document is nil")
		}
		if strings.TrimSpace(doc.ID) == "" {
			return errors.New("document id is required")
		}
		if doc.Status == "" {
			doc.Status = StatusUploaded
		}
		doc.CreatedAt = now
		doc.UpdatedAt = now

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO documents (`+documentColumns+`)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID,
			doc.OriginalFilename,
			nullableString(doc.StoredPath),
			doc.SizeBytes,
			nullableString(doc.ContentType),
			doc.Status,
			nullableString(doc.UploaderID),
			nullableString(doc.ClinicName),
			nullableString(doc.PatientID),
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO processing_statuses (document_id, stage, state, error_message, latest, created_at, updated_at)
             VALUES (?, ?, ?, NULL, 1, ?, ?)`,
			doc.ID,
			StageIngestion,
			StateCompleted,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert intake status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit intake: %w", err)
	}
	return nil
}

// GetDocument fetches a document by identifier; nil when unknown.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListOptions filters and paginates document listings.
type ListOptions struct {
	Status     Status
	UploaderID string
	Page       int
	Limit      int
}

// ListDocuments returns matching documents newest first plus the total count.
func (s *Store) ListDocuments(ctx context.Context, opts ListOptions) ([]*Document, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	var (
		clauses []string
		args    []any
	)
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.UploaderID != "" {
		clauses = append(clauses, "uploader_id = ?")
		args = append(args, opts.UploaderID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, (opts.Page-1)*opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// DeleteDocument removes a document and all of its status records.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processing_statuses WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete statuses: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// PurgeDocument removes all trace of a document: status records plus the
// document row when one exists. Unlike DeleteDocument it succeeds when the
// document is unknown, which is what deletion fan-out and late-callback
// cleanup on downstream stages need.
func (s *Store) PurgeDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processing_statuses WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("purge statuses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("purge document: %w", err)
	}
	return tx.Commit()
}

// ApplyEvent advances a document's coarse status through the state machine.
// The write is a compare-and-set on the previously observed status so
// concurrent writers serialize through the store, not application locks.
func (s *Store) ApplyEvent(ctx context.Context, id string, ev Event) (*Document, error) {
	return s.advanceStatus(ctx, id, func(current Status) (Status, error) {
		return Transition(current, ev)
	})
}

// PatchStatus applies the narrow internal status patch: the requested status
// is validated through Advance, so a late callback carrying an earlier stage
// outcome leaves the newer status in place (ErrStaleTransition).
func (s *Store) PatchStatus(ctx context.Context, id string, target Status) (*Document, error) {
	return s.advanceStatus(ctx, id, func(current Status) (Status, error) {
		return Advance(current, target)
	})
}

func (s *Store) advanceStatus(ctx context.Context, id string, next func(Status) (Status, error)) (*Document, error) {
	// Retries cover the window between read and compare-and-set when another
	// writer lands first; the transition is then re-evaluated against the
	// fresh status.
	for attempt := 0; attempt < 3; attempt++ {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, ErrNotFound
		}

		target, err := next(doc.Status)
		if err != nil {
			return doc, err
		}
		if target == doc.Status {
			return doc, nil
		}

		now := time.Now().UTC()
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			target,
			now.Format(time.RFC3339Nano),
			id,
			doc.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("update document status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update document status: %w", err)
		}
		if affected == 1 {
			doc.Status = target
			doc.UpdatedAt = now
			return doc, nil
		}
	}
	return nil, fmt.Errorf("document %s: status changed concurrently, giving up", id)
}
