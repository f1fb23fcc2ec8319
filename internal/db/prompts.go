package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

const promptColumns = `id, remote_id, title, content, description, category_id, favorite,
	sync_status, created_at, updated_at`

func scanPrompt(s scanner) (*models.Prompt, error) {
	var p models.Prompt
	var remoteID sql.NullString
	err := s.Scan(&p.ID, &remoteID, &p.Title, &p.Content, &p.Description, &p.CategoryID,
		&p.Favorite, &p.SyncStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.RemoteID = remoteID.String
	return &p, nil
}

// CreatePrompt inserts a prompt. ID and timestamps are assigned when unset.
func (r *Repository) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.New()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = models.NowMillis()
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.CreatedAt
	}
	if p.SyncStatus == "" {
		p.SyncStatus = models.SyncStatusPending
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO prompts (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullString(p.RemoteID), p.Title, p.Content, p.Description, p.CategoryID,
			p.Favorite, p.SyncStatus, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.Wrap(apperrors.ErrDuplicate, "prompt already exists", err)
			}
			return apperrors.Wrap(apperrors.ErrDatabase, "insert prompt", err)
		}
		return replaceTags(ctx, tx, "prompt_tags", "prompt_id", p.ID, p.TagIDs)
	})
}

// GetPrompt retrieves a prompt by ID.
func (r *Repository) GetPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	p, err := scanPrompt(stmt.QueryRowContext(ctx, id))
	if err != nil {
		return nil, notFound(err, apperrors.ErrPromptNotFound, "prompt", id.String())
	}
	if p.TagIDs, err = loadTags(ctx, r.q, "prompt_tags", "prompt_id", p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// FindPrompt returns the prompt with id, or nil when it does not exist.
func (r *Repository) FindPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error) {
	p, err := r.GetPrompt(ctx, id)
	if apperrors.Is(err, apperrors.ErrPromptNotFound) {
		return nil, nil
	}
	return p, err
}

// FindPromptByRemoteID returns the prompt bound to remoteID, or nil when none is.
func (r *Repository) FindPromptByRemoteID(ctx context.Context, remoteID string) (*models.Prompt, error) {
	if remoteID == "" {
		return nil, nil
	}
	stmt, err := r.PrepareStmt(ctx, `SELECT `+promptColumns+` FROM prompts WHERE remote_id = ?`)
	if err != nil {
		return nil, err
	}
	p, err := scanPrompt(stmt.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query prompt by remote id", err)
	}
	if p.TagIDs, err = loadTags(ctx, r.q, "prompt_tags", "prompt_id", p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrompts returns all prompts, favorites first, then by title.
func (r *Repository) ListPrompts(ctx context.Context) ([]*models.Prompt, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+promptColumns+` FROM prompts ORDER BY favorite DESC, title COLLATE NOCASE, id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list prompts", err)
	}
	var prompts []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			rows.Close()
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan prompt", err)
		}
		prompts = append(prompts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list prompts", err)
	}

	for _, p := range prompts {
		if p.TagIDs, err = loadTags(ctx, r.q, "prompt_tags", "prompt_id", p.ID); err != nil {
			return nil, err
		}
	}
	return prompts, nil
}

// UpdatePrompt writes every field of p, including its tags.
func (r *Repository) UpdatePrompt(ctx context.Context, p *models.Prompt) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		UPDATE prompts
		SET remote_id = COALESCE(remote_id, ?), title = ?, content = ?, description = ?,
			category_id = ?, favorite = ?, sync_status = ?, updated_at = ?
		WHERE id = ?`,
			nullString(p.RemoteID), p.Title, p.Content, p.Description, p.CategoryID,
			p.Favorite, p.SyncStatus, p.UpdatedAt, p.ID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "update prompt", err)
		}
		if err := requireRow(res, apperrors.ErrPromptNotFound, "prompt", p.ID.String()); err != nil {
			return err
		}
		return replaceTags(ctx, tx, "prompt_tags", "prompt_id", p.ID, p.TagIDs)
	})
}

// DeletePrompt removes a prompt and its tag links.
func (r *Repository) DeletePrompt(ctx context.Context, id models.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete prompt", err)
	}
	return requireRow(res, apperrors.ErrPromptNotFound, "prompt", id.String())
}

// MarkPromptPushed records a successful push, see MarkItemPushed.
func (r *Repository) MarkPromptPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error {
	res, err := r.q.ExecContext(ctx, `
	UPDATE prompts
	SET remote_id = COALESCE(remote_id, ?),
		sync_status = CASE WHEN updated_at = ? THEN 'synced' ELSE sync_status END
	WHERE id = ?`, nullString(remoteID), seenUpdatedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "mark prompt pushed", err)
	}
	return requireRow(res, apperrors.ErrPromptNotFound, "prompt", id.String())
}

// SetPromptSyncStatus sets only the sync status.
func (r *Repository) SetPromptSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE prompts SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "set prompt sync status", err)
	}
	return requireRow(res, apperrors.ErrPromptNotFound, "prompt", id.String())
}
