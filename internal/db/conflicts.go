package db

import (
	"context"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	log.ID = uuid.New()
	if log.DetectedAt == 0 {
		log.DetectedAt = models.NowMillis()
	}

	_, err := r.q.ExecContext(ctx, `
	INSERT INTO conflict_log (id, family, entity_id, local_timestamp, remote_timestamp, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Family, log.EntityID, log.LocalTimestamp, log.RemoteTimestamp,
		log.Resolution, log.DetectedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the most recent conflict log entries, newest first.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
	SELECT id, family, entity_id, local_timestamp, remote_timestamp, resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		if err := rows.Scan(&c.ID, &c.Family, &c.EntityID, &c.LocalTimestamp, &c.RemoteTimestamp,
			&c.Resolution, &c.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan conflict log", err)
		}
		logs = append(logs, &c)
	}
	return logs, rows.Err()
}
