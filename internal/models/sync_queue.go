package models

import "encoding/json"

// QueueOperation is the kind of mutation recorded in the outbox.
type QueueOperation string

const (
	OpCreate QueueOperation = "create"
	OpUpdate QueueOperation = "update"
	OpDelete QueueOperation = "delete"
)

// QueueStatus is the lifecycle state of an outbox entry.
type QueueStatus string

const (
	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusFailed  QueueStatus = "failed"
)

// SyncQueueEntry represents a pending local mutation waiting to be pushed.
// Payload is only set for deletes, where the entity row no longer exists.
type SyncQueueEntry struct {
	ID         UUID            `db:"id" json:"id"`
	Family     Family          `db:"family" json:"family"`
	EntityID   UUID            `db:"entity_id" json:"entity_id"`
	Operation  QueueOperation  `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	Status     QueueStatus     `db:"status" json:"status"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}
