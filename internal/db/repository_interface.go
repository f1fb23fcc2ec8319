package db

import (
	"context"

	"github.com/kimhsiao/stashsync/internal/models"
)

// ItemRepository defines operations for item persistence.
type ItemRepository interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id models.UUID) (*models.Item, error)
	FindItem(ctx context.Context, id models.UUID) (*models.Item, error)
	FindItemByRemoteID(ctx context.Context, remoteID string) (*models.Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, id models.UUID) error
	MarkItemPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error
	SetItemSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error
}

// PromptRepository defines operations for prompt persistence.
type PromptRepository interface {
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	GetPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error)
	FindPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error)
	FindPromptByRemoteID(ctx context.Context, remoteID string) (*models.Prompt, error)
	ListPrompts(ctx context.Context) ([]*models.Prompt, error)
	UpdatePrompt(ctx context.Context, p *models.Prompt) error
	DeletePrompt(ctx context.Context, id models.UUID) error
	MarkPromptPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error
	SetPromptSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error
}

// LabelRepository defines operations for label persistence.
type LabelRepository interface {
	CreateLabel(ctx context.Context, l *models.Label) error
	GetLabel(ctx context.Context, id models.UUID) (*models.Label, error)
	FindLabelByName(ctx context.Context, kind models.LabelKind, name string) (*models.Label, error)
	ListLabels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error)
	DeleteLabel(ctx context.Context, id models.UUID) error
}

// QueueRepository defines operations for outbox persistence.
type QueueRepository interface {
	InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	DeleteQueueEntry(ctx context.Context, id models.UUID) error
	GetQueueEntry(ctx context.Context, id models.UUID) (*models.SyncQueueEntry, error)
	FindQueuedEntry(ctx context.Context, family models.Family, entityID models.UUID) (*models.SyncQueueEntry, error)
	ListQueueEntries(ctx context.Context, family models.Family, status models.QueueStatus) ([]*models.SyncQueueEntry, error)
	ResetQueueEntries(ctx context.Context, family models.Family, from models.QueueStatus) (int64, error)
	CountQueueEntries(ctx context.Context, family models.Family) (map[models.QueueStatus]int, error)
}

// SettingsRepository defines operations on the settings row.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SetAPIToken(ctx context.Context, sealed string) error
	SetDatabaseID(ctx context.Context, family models.Family, databaseID string) error
	SetLastSyncAt(ctx context.Context, family models.Family, ms int64) error
	SetAutoSync(ctx context.Context, enabled bool, intervalMinutes int) error
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// Store groups every repository. *Repository is the only implementation.
type Store interface {
	ItemRepository
	PromptRepository
	LabelRepository
	QueueRepository
	SettingsRepository
	ConflictLogRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ ItemRepository        = (*Repository)(nil)
	_ PromptRepository      = (*Repository)(nil)
	_ LabelRepository       = (*Repository)(nil)
	_ QueueRepository       = (*Repository)(nil)
	_ SettingsRepository    = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ Store                 = (*Repository)(nil)
)
