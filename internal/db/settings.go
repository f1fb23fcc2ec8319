package db

import (
	"context"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
)

// GetSettings returns the settings row created by the initial migration.
func (r *Repository) GetSettings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := r.q.QueryRowContext(ctx, `
	SELECT api_token_encrypted, items_database_id, prompts_database_id, items_last_sync_at,
		prompts_last_sync_at, auto_sync_enabled, auto_sync_interval_minutes, updated_at
	FROM settings WHERE id = 1`).Scan(
		&s.APITokenEncrypted, &s.ItemsDatabaseID, &s.PromptsDatabaseID, &s.ItemsLastSyncAt,
		&s.PromptsLastSyncAt, &s.AutoSyncEnabled, &s.AutoSyncIntervalMinutes, &s.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "load settings", err)
	}
	return &s, nil
}

func (r *Repository) updateSettings(ctx context.Context, what, set string, args ...any) error {
	args = append(args, models.NowMillis())
	if _, err := r.q.ExecContext(ctx, `UPDATE settings SET `+set+`, updated_at = ? WHERE id = 1`, args...); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "save "+what, err)
	}
	return nil
}

// SetAPIToken stores the sealed remote token. An empty value clears it.
func (r *Repository) SetAPIToken(ctx context.Context, sealed string) error {
	return r.updateSettings(ctx, "api token", `api_token_encrypted = ?`, sealed)
}

// SetDatabaseID binds a family to a remote database. Switching databases
// clears the family checkpoint so the next sync pulls everything.
func (r *Repository) SetDatabaseID(ctx context.Context, family models.Family, databaseID string) error {
	switch family {
	case models.FamilyItems:
		return r.updateSettings(ctx, "items database",
			`items_last_sync_at = CASE WHEN items_database_id = ? THEN items_last_sync_at ELSE 0 END, items_database_id = ?`,
			databaseID, databaseID)
	case models.FamilyPrompts:
		return r.updateSettings(ctx, "prompts database",
			`prompts_last_sync_at = CASE WHEN prompts_database_id = ? THEN prompts_last_sync_at ELSE 0 END, prompts_database_id = ?`,
			databaseID, databaseID)
	}
	return apperrors.New(apperrors.ErrValidation, "unknown family: "+string(family))
}

// SetLastSyncAt moves the pull checkpoint of a family.
func (r *Repository) SetLastSyncAt(ctx context.Context, family models.Family, ms int64) error {
	switch family {
	case models.FamilyItems:
		return r.updateSettings(ctx, "items checkpoint", `items_last_sync_at = ?`, ms)
	case models.FamilyPrompts:
		return r.updateSettings(ctx, "prompts checkpoint", `prompts_last_sync_at = ?`, ms)
	}
	return apperrors.New(apperrors.ErrValidation, "unknown family: "+string(family))
}

// SetAutoSync stores the periodic trigger settings.
func (r *Repository) SetAutoSync(ctx context.Context, enabled bool, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return apperrors.New(apperrors.ErrValidation, "auto sync interval must be positive")
	}
	return r.updateSettings(ctx, "auto sync",
		`auto_sync_enabled = ?, auto_sync_interval_minutes = ?`, enabled, intervalMinutes)
}
