package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

const labelColumns = `id, kind, name, color, icon, created_at, updated_at`

func scanLabel(s scanner) (*models.Label, error) {
	var l models.Label
	if err := s.Scan(&l.ID, &l.Kind, &l.Name, &l.Color, &l.Icon, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLabel inserts a label. Names are unique per kind, ignoring ASCII case.
func (r *Repository) CreateLabel(ctx context.Context, l *models.Label) error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return apperrors.New(apperrors.ErrValidation, "label name is required")
	}
	if !l.Kind.Valid() {
		return apperrors.New(apperrors.ErrValidation, "unknown label kind: "+string(l.Kind))
	}
	if l.ID == "" {
		l.ID = uuid.New()
	}
	now := models.NowMillis()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, `INSERT INTO labels (`+labelColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Kind, l.Name, l.Color, l.Icon, l.CreatedAt, l.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrDuplicate, "label already exists: "+l.Name, err)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert label", err)
	}
	return nil
}

// GetLabel retrieves a label by ID.
func (r *Repository) GetLabel(ctx context.Context, id models.UUID) (*models.Label, error) {
	l, err := scanLabel(r.q.QueryRowContext(ctx, `SELECT `+labelColumns+` FROM labels WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, apperrors.ErrLabelNotFound, "label", id.String())
	}
	return l, nil
}

// FindLabelByName returns the label of kind named name, ignoring ASCII case, or nil.
func (r *Repository) FindLabelByName(ctx context.Context, kind models.LabelKind, name string) (*models.Label, error) {
	l, err := scanLabel(r.q.QueryRowContext(ctx,
		`SELECT `+labelColumns+` FROM labels WHERE kind = ? AND name = ? COLLATE NOCASE`, kind, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query label by name", err)
	}
	return l, nil
}

// ListLabels returns the labels of kind, or of every kind when kind is empty.
func (r *Repository) ListLabels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error) {
	query := `SELECT ` + labelColumns + ` FROM labels`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, name COLLATE NOCASE`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list labels", err)
	}
	defer rows.Close()

	var labels []*models.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan label", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// DeleteLabel removes a label. References from items and prompts are cleared.
func (r *Repository) DeleteLabel(ctx context.Context, id models.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete label", err)
	}
	return requireRow(res, apperrors.ErrLabelNotFound, "label", id.String())
}
