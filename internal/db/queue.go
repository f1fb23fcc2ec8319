package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

const queueColumns = `id, family, entity_id, operation, payload, enqueued_at, retry_count,
	status, last_error, updated_at`

func scanQueueEntry(s scanner) (*models.SyncQueueEntry, error) {
	var e models.SyncQueueEntry
	var payload sql.NullString
	err := s.Scan(&e.ID, &e.Family, &e.EntityID, &e.Operation, &payload, &e.EnqueuedAt,
		&e.RetryCount, &e.Status, &e.LastError, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	return &e, nil
}

// InsertQueueEntry adds an outbox entry.
func (r *Repository) InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.New()
	}
	now := models.NowMillis()
	if e.EnqueuedAt == 0 {
		e.EnqueuedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = models.QueueStatusQueued
	}

	_, err := r.q.ExecContext(ctx, `INSERT INTO sync_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Family, e.EntityID, e.Operation, nullString(string(e.Payload)), e.EnqueuedAt,
		e.RetryCount, e.Status, e.LastError, e.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert queue entry", err)
	}
	return nil
}

// UpdateQueueEntry rewrites the mutable fields of an entry. EnqueuedAt is kept.
func (r *Repository) UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	e.UpdatedAt = models.NowMillis()
	res, err := r.q.ExecContext(ctx, `
	UPDATE sync_queue
	SET operation = ?, payload = ?, retry_count = ?, status = ?, last_error = ?, updated_at = ?
	WHERE id = ?`,
		e.Operation, nullString(string(e.Payload)), e.RetryCount, e.Status, e.LastError, e.UpdatedAt, e.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "update queue entry", err)
	}
	return requireRow(res, apperrors.ErrQueueNotFound, "queue entry", e.ID.String())
}

// DeleteQueueEntry removes an entry.
func (r *Repository) DeleteQueueEntry(ctx context.Context, id models.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete queue entry", err)
	}
	return nil
}

// GetQueueEntry retrieves an entry by ID.
func (r *Repository) GetQueueEntry(ctx context.Context, id models.UUID) (*models.SyncQueueEntry, error) {
	e, err := scanQueueEntry(r.q.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, apperrors.ErrQueueNotFound, "queue entry", id.String())
	}
	return e, nil
}

// FindQueuedEntry returns the newest queued entry for an entity, or nil.
func (r *Repository) FindQueuedEntry(ctx context.Context, family models.Family, entityID models.UUID) (*models.SyncQueueEntry, error) {
	e, err := scanQueueEntry(r.q.QueryRowContext(ctx, `
	SELECT `+queueColumns+` FROM sync_queue
	WHERE family = ? AND entity_id = ? AND status = 'queued'
	ORDER BY enqueued_at DESC, rowid DESC LIMIT 1`, family, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "find queued entry", err)
	}
	return e, nil
}

// ListQueueEntries returns entries in drain order. Empty family or status match all.
func (r *Repository) ListQueueEntries(ctx context.Context, family models.Family, status models.QueueStatus) ([]*models.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE 1 = 1`
	var args []any
	if family != "" {
		query += ` AND family = ?`
		args = append(args, family)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY enqueued_at ASC, rowid ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list queue entries", err)
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan queue entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResetQueueEntries moves every entry of family in status from back to queued.
// Failed entries also get their retry count cleared.
func (r *Repository) ResetQueueEntries(ctx context.Context, family models.Family, from models.QueueStatus) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
	UPDATE sync_queue
	SET status = 'queued',
		retry_count = CASE WHEN status = 'failed' THEN 0 ELSE retry_count END,
		updated_at = ?
	WHERE family = ? AND status = ?`, models.NowMillis(), family, from)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "reset queue entries", err)
	}
	return res.RowsAffected()
}

// CountQueueEntries returns the number of entries of family per status.
func (r *Repository) CountQueueEntries(ctx context.Context, family models.Family) (map[models.QueueStatus]int, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_queue WHERE family = ? GROUP BY status`, family)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "count queue entries", err)
	}
	defer rows.Close()

	counts := map[models.QueueStatus]int{
		models.QueueStatusQueued:  0,
		models.QueueStatusSyncing: 0,
		models.QueueStatusFailed:  0,
	}
	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan queue count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
