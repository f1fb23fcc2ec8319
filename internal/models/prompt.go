package models

import "time"

// Prompt is an entry of the prompt library.
type Prompt struct {
	ID          UUID       `db:"id" json:"id"`
	RemoteID    string     `db:"remote_id" json:"remote_id,omitempty"`
	Title       string     `db:"title" json:"title"`
	Content     string     `db:"content" json:"content"`
	Description string     `db:"description" json:"description,omitempty"`
	CategoryID  UUID       `db:"category_id" json:"category_id,omitempty"`
	TagIDs      []UUID     `db:"-" json:"tag_ids"`
	Favorite    bool       `db:"favorite" json:"favorite"`
	SyncStatus  SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt   int64      `db:"created_at" json:"created_at"`
	UpdatedAt   int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Prompt.
func (Prompt) TableName() string {
	return "prompts"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *Prompt) UpdatedAtTime() time.Time {
	return MillisTime(p.UpdatedAt)
}

// Touch marks a local edit.
func (p *Prompt) Touch() {
	p.UpdatedAt = NowMillis()
	p.SyncStatus = SyncStatusPending
}

func (p *Prompt) EntityID() UUID         { return p.ID }
func (p *Prompt) RemoteRecordID() string { return p.RemoteID }
func (p *Prompt) ModifiedAt() int64      { return p.UpdatedAt }
func (p *Prompt) SyncState() SyncStatus  { return p.SyncStatus }
