package models

import "time"

// ItemKind distinguishes the records stored in the items family.
type ItemKind string

const (
	ItemKindTask     ItemKind = "task"
	ItemKindBookmark ItemKind = "bookmark"
	ItemKindNote     ItemKind = "note"
)

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindTask, ItemKindBookmark, ItemKindNote:
		return true
	}
	return false
}

// Item is a task, bookmark or note.
// CategoryID and ProjectID are empty when unset.
type Item struct {
	ID         UUID       `db:"id" json:"id"`
	RemoteID   string     `db:"remote_id" json:"remote_id,omitempty"`
	Kind       ItemKind   `db:"kind" json:"kind"`
	Title      string     `db:"title" json:"title"`
	Content    string     `db:"content" json:"content,omitempty"`
	URL        string     `db:"url" json:"url,omitempty"`
	Status     string     `db:"status" json:"status,omitempty"`
	Priority   string     `db:"priority" json:"priority,omitempty"`
	DueDate    string     `db:"due_date" json:"due_date,omitempty"` // YYYY-MM-DD
	CategoryID UUID       `db:"category_id" json:"category_id,omitempty"`
	ProjectID  UUID       `db:"project_id" json:"project_id,omitempty"`
	TagIDs     []UUID     `db:"-" json:"tag_ids"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (i *Item) CreatedAtTime() time.Time {
	return MillisTime(i.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (i *Item) UpdatedAtTime() time.Time {
	return MillisTime(i.UpdatedAt)
}

// Touch marks a local edit: the timestamp moves forward and the item
// waits for the next push.
func (i *Item) Touch() {
	i.UpdatedAt = NowMillis()
	i.SyncStatus = SyncStatusPending
}

func (i *Item) EntityID() UUID         { return i.ID }
func (i *Item) RemoteRecordID() string { return i.RemoteID }
func (i *Item) ModifiedAt() int64      { return i.UpdatedAt }
func (i *Item) SyncState() SyncStatus  { return i.SyncStatus }
