package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

const itemColumns = `id, remote_id, kind, title, content, url, status, priority, due_date,
	category_id, project_id, sync_status, created_at, updated_at`

// ItemFilter narrows ListItems. Zero values mean no filter; Limit 0 means no limit.
type ItemFilter struct {
	Kind   models.ItemKind
	Limit  int
	Offset int
}

func scanItem(s scanner) (*models.Item, error) {
	var item models.Item
	var remoteID sql.NullString
	err := s.Scan(&item.ID, &remoteID, &item.Kind, &item.Title, &item.Content, &item.URL,
		&item.Status, &item.Priority, &item.DueDate, &item.CategoryID, &item.ProjectID,
		&item.SyncStatus, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.RemoteID = remoteID.String
	return &item, nil
}

// CreateItem inserts item. ID and timestamps are assigned when unset, so the
// pull path can keep an embedded local ID and the remote edit time.
func (r *Repository) CreateItem(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.New()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = models.NowMillis()
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = item.CreatedAt
	}
	if item.SyncStatus == "" {
		item.SyncStatus = models.SyncStatusPending
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, nullString(item.RemoteID), item.Kind, item.Title, item.Content, item.URL,
			item.Status, item.Priority, item.DueDate, item.CategoryID, item.ProjectID,
			item.SyncStatus, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.Wrap(apperrors.ErrDuplicate, "item already exists", err)
			}
			return apperrors.Wrap(apperrors.ErrDatabase, "insert item", err)
		}
		return replaceTags(ctx, tx, "item_tags", "item_id", item.ID, item.TagIDs)
	})
}

// GetItem retrieves an item by ID.
func (r *Repository) GetItem(ctx context.Context, id models.UUID) (*models.Item, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	item, err := scanItem(stmt.QueryRowContext(ctx, id))
	if err != nil {
		return nil, notFound(err, apperrors.ErrItemNotFound, "item", id.String())
	}
	if item.TagIDs, err = loadTags(ctx, r.q, "item_tags", "item_id", item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

// FindItemByRemoteID returns the item bound to remoteID, or nil when none is.
func (r *Repository) FindItemByRemoteID(ctx context.Context, remoteID string) (*models.Item, error) {
	if remoteID == "" {
		return nil, nil
	}
	stmt, err := r.PrepareStmt(ctx, `SELECT `+itemColumns+` FROM items WHERE remote_id = ?`)
	if err != nil {
		return nil, err
	}
	item, err := scanItem(stmt.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query item by remote id", err)
	}
	if item.TagIDs, err = loadTags(ctx, r.q, "item_tags", "item_id", item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

// FindItem returns the item with id, or nil when it does not exist.
func (r *Repository) FindItem(ctx context.Context, id models.UUID) (*models.Item, error) {
	item, err := r.GetItem(ctx, id)
	if apperrors.Is(err, apperrors.ErrItemNotFound) {
		return nil, nil
	}
	return item, err
}

// ListItems returns items, most recently updated first.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list items", err)
	}
	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan item", err)
		}
		items = append(items, item)
	}
	// Close before loading tags: the pool has a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list items", err)
	}

	for _, item := range items {
		if item.TagIDs, err = loadTags(ctx, r.q, "item_tags", "item_id", item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// UpdateItem writes every field of item, including its tags. The caller owns
// UpdatedAt and SyncStatus. A remote ID already stored is never replaced.
func (r *Repository) UpdateItem(ctx context.Context, item *models.Item) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET remote_id = COALESCE(remote_id, ?), kind = ?, title = ?, content = ?, url = ?,
			status = ?, priority = ?, due_date = ?, category_id = ?, project_id = ?,
			sync_status = ?, updated_at = ?
		WHERE id = ?`,
			nullString(item.RemoteID), item.Kind, item.Title, item.Content, item.URL,
			item.Status, item.Priority, item.DueDate, item.CategoryID, item.ProjectID,
			item.SyncStatus, item.UpdatedAt, item.ID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "update item", err)
		}
		if err := requireRow(res, apperrors.ErrItemNotFound, "item", item.ID.String()); err != nil {
			return err
		}
		return replaceTags(ctx, tx, "item_tags", "item_id", item.ID, item.TagIDs)
	})
}

// DeleteItem removes an item and its tag links.
func (r *Repository) DeleteItem(ctx context.Context, id models.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete item", err)
	}
	return requireRow(res, apperrors.ErrItemNotFound, "item", id.String())
}

// MarkItemPushed records a successful push. The remote ID is only set when
// none is stored yet, and the item only becomes synced when it has not been
// edited since the push read it.
func (r *Repository) MarkItemPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error {
	res, err := r.q.ExecContext(ctx, `
	UPDATE items
	SET remote_id = COALESCE(remote_id, ?),
		sync_status = CASE WHEN updated_at = ? THEN 'synced' ELSE sync_status END
	WHERE id = ?`, nullString(remoteID), seenUpdatedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "mark item pushed", err)
	}
	return requireRow(res, apperrors.ErrItemNotFound, "item", id.String())
}

// SetItemSyncStatus sets only the sync status.
func (r *Repository) SetItemSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE items SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "set item sync status", err)
	}
	return requireRow(res, apperrors.ErrItemNotFound, "item", id.String())
}

// replaceTags rewrites the ordered tag links of one entity.
func replaceTags(ctx context.Context, q querier, table, owner string, id models.UUID, tags []models.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+owner+` = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "clear tags", err)
	}
	seen := make(map[models.UUID]bool, len(tags))
	pos := 0
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		if _, err := q.ExecContext(ctx,
			`INSERT INTO `+table+` (`+owner+`, label_id, position) VALUES (?, ?, ?)`, id, tag, pos); err != nil {
			return apperrors.Wrap(apperrors.ErrConstraint, "link tag "+tag.String(), err)
		}
		pos++
	}
	return nil
}

func loadTags(ctx context.Context, q querier, table, owner string, id models.UUID) ([]models.UUID, error) {
	rows, err := q.QueryContext(ctx, `SELECT label_id FROM `+table+` WHERE `+owner+` = ? ORDER BY position`, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "load tags", err)
	}
	defer rows.Close()

	tags := []models.UUID{}
	for rows.Next() {
		var tag models.UUID
		if err := rows.Scan(&tag); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan tag", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
