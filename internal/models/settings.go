package models

// Settings is the single row of sync configuration kept in the local store.
// APITokenEncrypted is never exposed in JSON responses.
type Settings struct {
	APITokenEncrypted       string `db:"api_token_encrypted" json:"-"`
	ItemsDatabaseID         string `db:"items_database_id" json:"items_database_id"`
	PromptsDatabaseID       string `db:"prompts_database_id" json:"prompts_database_id"`
	ItemsLastSyncAt         int64  `db:"items_last_sync_at" json:"items_last_sync_at"`
	PromptsLastSyncAt       int64  `db:"prompts_last_sync_at" json:"prompts_last_sync_at"`
	AutoSyncEnabled         bool   `db:"auto_sync_enabled" json:"auto_sync_enabled"`
	AutoSyncIntervalMinutes int    `db:"auto_sync_interval_minutes" json:"auto_sync_interval_minutes"`
	UpdatedAt               int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Settings.
func (Settings) TableName() string {
	return "settings"
}

// HasToken reports whether a remote API token has been stored.
func (s *Settings) HasToken() bool {
	return s.APITokenEncrypted != ""
}

// DatabaseID returns the remote database bound to a family.
func (s *Settings) DatabaseID(f Family) string {
	if f == FamilyPrompts {
		return s.PromptsDatabaseID
	}
	return s.ItemsDatabaseID
}

// LastSyncAt returns the pull checkpoint of a family, zero if it never synced.
func (s *Settings) LastSyncAt(f Family) int64 {
	if f == FamilyPrompts {
		return s.PromptsLastSyncAt
	}
	return s.ItemsLastSyncAt
}
