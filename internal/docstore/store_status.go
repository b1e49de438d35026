package docstore

import (
	"context"
	"fmt"
	"time"
)

const statusColumns = "id, document_id, stage, state, error_message, latest, created_at, updated_at"

// UpsertStageStatus records a stage outcome for a document. A new history row
// is inserted and becomes the latest for its (document, stage) pair; earlier
// rows keep the history. Stage records are last-write-wins on purpose: the
// coarse document status is the ordering-guarded view, this one is the audit
// trail of what each stage reported and when.
func (s *Store) UpsertStageStatus(ctx context.Context, status *ProcessingStatus) error {
	if status == nil {
		return fmt.Errorf("processing status is nil")
	}
	if status.DocumentID == "" {
		return fmt.Errorf("processing status requires a document id")
	}
	if _, ok := stageStatuses[status.Stage]; !ok {
		return fmt.Errorf("unknown stage %q", status.Stage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE processing_statuses SET latest = 0, updated_at = ?
         WHERE document_id = ? AND stage = ? AND latest = 1`,
		timestamp,
		status.DocumentID,
		status.Stage,
	); err != nil {
		return fmt.Errorf("demote previous status: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO processing_statuses (document_id, stage, state, error_message, latest, created_at, updated_at)
         VALUES (?, ?, ?, ?, 1, ?, ?)`,
		status.DocumentID,
		status.Stage,
		status.State,
		nullableString(status.ErrorMessage),
		timestamp,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}

	status.ID = id
	status.Latest = true
	status.CreatedAt = now
	status.UpdatedAt = now
	return nil
}

// LatestStageStatuses returns the newest status row per stage for a document,
// ordered by pipeline stage order.
func (s *Store) LatestStageStatuses(ctx context.Context, documentID string) ([]*ProcessingStatus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+statusColumns+` FROM processing_statuses
         WHERE document_id = ? AND latest = 1`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest statuses: %w", err)
	}
	defer rows.Close()

	byStage := make(map[Stage]*ProcessingStatus)
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		byStage[status.Stage] = status
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ordered []*ProcessingStatus
	for _, stage := range stageOrder {
		if status, ok := byStage[stage]; ok {
			ordered = append(ordered, status)
		}
	}
	return ordered, nil
}

// StageStatusHistory returns every recorded status row for a document,
// newest first.
func (s *Store) StageStatusHistory(ctx context.Context, documentID string) ([]*ProcessingStatus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+statusColumns+` FROM processing_statuses
         WHERE document_id = ? ORDER BY id DESC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var history []*ProcessingStatus
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, status)
	}
	return history, rows.Err()
}

// HealthSummary reports document counts per coarse status.
func (s *Store) HealthSummary(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query health summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan health summary: %w", err)
		}
		summary[status] = count
	}
	return summary, rows.Err()
}
