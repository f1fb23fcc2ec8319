// Package services holds the local operations behind the CLI and HTTP API.
// Every change to a syncable entity is written locally first and then
// recorded in its family's outbox.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/stashsync/internal/db"
	"github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
	"github.com/kimhsiao/stashsync/internal/sync/resolver"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

// Store is the persistence the library needs.
type Store interface {
	resolver.Store

	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id models.UUID) (*models.Item, error)
	ListItems(ctx context.Context, filter db.ItemFilter) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, id models.UUID) error

	CreatePrompt(ctx context.Context, p *models.Prompt) error
	GetPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error)
	ListPrompts(ctx context.Context) ([]*models.Prompt, error)
	UpdatePrompt(ctx context.Context, p *models.Prompt) error
	DeletePrompt(ctx context.Context, id models.UUID) error

	ListLabels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error)

	InTx(ctx context.Context, fn func(tx *db.Repository) error) error
}

// Library edits items and prompts and queues their mutations.
type Library struct {
	store   Store
	items   *queue.Queue
	prompts *queue.Queue
	labels  *resolver.Resolver
}

// NewLibrary creates a Library. items and prompts are the outboxes of the
// two families.
func NewLibrary(store Store, items, prompts *queue.Queue, labels *resolver.Resolver) *Library {
	if labels == nil {
		labels = resolver.New(store, nil)
	}
	return &Library{store: store, items: items, prompts: prompts, labels: labels}
}

// ItemInput describes a new item. Label fields are names.
type ItemInput struct {
	Kind     models.ItemKind `json:"kind"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	URL      string          `json:"url"`
	Status   string          `json:"status"`
	Priority string          `json:"priority"`
	DueDate  string          `json:"due_date"`
	Category string          `json:"category"`
	Project  string          `json:"project"`
	Tags     []string        `json:"tags"`
}

// ItemPatch changes the non-nil fields of an item.
type ItemPatch struct {
	Kind     *models.ItemKind `json:"kind"`
	Title    *string          `json:"title"`
	Content  *string          `json:"content"`
	URL      *string          `json:"url"`
	Status   *string          `json:"status"`
	Priority *string          `json:"priority"`
	DueDate  *string          `json:"due_date"`
	Category *string          `json:"category"`
	Project  *string          `json:"project"`
	Tags     *[]string        `json:"tags"`
}

func (l *Library) AddItem(ctx context.Context, in ItemInput) (*models.Item, error) {
	if in.Kind == "" {
		in.Kind = models.ItemKindNote
	}
	item := &models.Item{
		ID:       uuid.New(),
		Kind:     in.Kind,
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		URL:      in.URL,
		Status:   in.Status,
		Priority: in.Priority,
		DueDate:  in.DueDate,
	}
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if err := l.resolveItemLabels(ctx, item, &in.Category, &in.Project, &in.Tags); err != nil {
		return nil, err
	}

	item.Touch()
	item.CreatedAt = item.UpdatedAt
	err := l.commit(ctx, l.items, item.ID, queue.Create{}, func(tx *db.Repository) error {
		return tx.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	logging.Debug("Item added", map[string]interface{}{"item_id": item.ID, "kind": item.Kind})
	return item, nil
}

func (l *Library) EditItem(ctx context.Context, id models.UUID, p ItemPatch) (*models.Item, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	setIf(&item.Kind, p.Kind)
	setIf(&item.Title, p.Title)
	setIf(&item.Content, p.Content)
	setIf(&item.URL, p.URL)
	setIf(&item.Status, p.Status)
	setIf(&item.Priority, p.Priority)
	setIf(&item.DueDate, p.DueDate)
	item.Title = strings.TrimSpace(item.Title)
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if err := l.resolveItemLabels(ctx, item, p.Category, p.Project, p.Tags); err != nil {
		return nil, err
	}

	item.Touch()
	err = l.commit(ctx, l.items, item.ID, queue.Update{}, func(tx *db.Repository) error {
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// commit applies write and records m for id in one transaction.
func (l *Library) commit(ctx context.Context, q *queue.Queue, id models.UUID, m queue.Mutation, write func(tx *db.Repository) error) error {
	return q.Atomic(ctx, func(ctx context.Context, enqueue queue.EnqueueFunc) error {
		return l.store.InTx(ctx, func(tx *db.Repository) error {
			if err := write(tx); err != nil {
				return err
			}
			if _, err := enqueue(ctx, tx, id, m); err != nil {
				return fmt.Errorf("queue %s %s: %w", q.Family(), id, err)
			}
			return nil
		})
	})
}

// RemoveItem deletes the item and queues the remote archive in one
// transaction. The queued delete keeps the remote ID since the row is gone by
// the time it drains.
func (l *Library) RemoveItem(ctx context.Context, id models.UUID) error {
	return l.items.Atomic(ctx, func(ctx context.Context, enqueue queue.EnqueueFunc) error {
		return l.store.InTx(ctx, func(tx *db.Repository) error {
			item, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.DeleteItem(ctx, id); err != nil {
				return err
			}
			if _, err := enqueue(ctx, tx, id, queue.Delete{RemoteID: item.RemoteID, Title: item.Title}); err != nil {
				return fmt.Errorf("queue item %s: %w", id, err)
			}
			return nil
		})
	})
}

func (l *Library) GetItem(ctx context.Context, id models.UUID) (*models.Item, error) {
	return l.store.GetItem(ctx, id)
}

func (l *Library) ListItems(ctx context.Context, filter db.ItemFilter) ([]*models.Item, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown item kind: "+string(filter.Kind))
	}
	return l.store.ListItems(ctx, filter)
}

// resolveItemLabels maps label names to IDs. A nil pointer leaves that field
// unchanged; an empty name clears it.
func (l *Library) resolveItemLabels(ctx context.Context, item *models.Item, category, project *string, tags *[]string) error {
	var err error
	if category != nil {
		if item.CategoryID, err = l.resolveOne(ctx, models.LabelCategory, *category); err != nil {
			return err
		}
	}
	if project != nil {
		if item.ProjectID, err = l.resolveOne(ctx, models.LabelProject, *project); err != nil {
			return err
		}
	}
	if tags != nil {
		if item.TagIDs, err = l.resolveMany(ctx, models.LabelTag, *tags); err != nil {
			return err
		}
	}
	return nil
}

// PromptInput describes a new prompt.
type PromptInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Favorite    bool     `json:"favorite"`
}

// PromptPatch changes the non-nil fields of a prompt.
type PromptPatch struct {
	Title       *string   `json:"title"`
	Content     *string   `json:"content"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
	Favorite    *bool     `json:"favorite"`
}

func (l *Library) AddPrompt(ctx context.Context, in PromptInput) (*models.Prompt, error) {
	p := &models.Prompt{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(in.Title),
		Content:     in.Content,
		Description: in.Description,
		Favorite:    in.Favorite,
	}
	if err := validatePrompt(p); err != nil {
		return nil, err
	}
	if err := l.resolvePromptLabels(ctx, p, &in.Category, &in.Tags); err != nil {
		return nil, err
	}

	p.Touch()
	p.CreatedAt = p.UpdatedAt
	err := l.commit(ctx, l.prompts, p.ID, queue.Create{}, func(tx *db.Repository) error {
		return tx.CreatePrompt(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Library) EditPrompt(ctx context.Context, id models.UUID, patch PromptPatch) (*models.Prompt, error) {
	p, err := l.store.GetPrompt(ctx, id)
	if err != nil {
		return nil, err
	}

	setIf(&p.Title, patch.Title)
	setIf(&p.Content, patch.Content)
	setIf(&p.Description, patch.Description)
	setIf(&p.Favorite, patch.Favorite)
	p.Title = strings.TrimSpace(p.Title)
	if err := validatePrompt(p); err != nil {
		return nil, err
	}
	if err := l.resolvePromptLabels(ctx, p, patch.Category, patch.Tags); err != nil {
		return nil, err
	}

	p.Touch()
	err = l.commit(ctx, l.prompts, p.ID, queue.Update{}, func(tx *db.Repository) error {
		return tx.UpdatePrompt(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Library) RemovePrompt(ctx context.Context, id models.UUID) error {
	return l.prompts.Atomic(ctx, func(ctx context.Context, enqueue queue.EnqueueFunc) error {
		return l.store.InTx(ctx, func(tx *db.Repository) error {
			p, err := tx.GetPrompt(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.DeletePrompt(ctx, id); err != nil {
				return err
			}
			if _, err := enqueue(ctx, tx, id, queue.Delete{RemoteID: p.RemoteID, Title: p.Title}); err != nil {
				return fmt.Errorf("queue prompt %s: %w", id, err)
			}
			return nil
		})
	})
}

func (l *Library) GetPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error) {
	return l.store.GetPrompt(ctx, id)
}

func (l *Library) ListPrompts(ctx context.Context) ([]*models.Prompt, error) {
	return l.store.ListPrompts(ctx)
}

func (l *Library) resolvePromptLabels(ctx context.Context, p *models.Prompt, category *string, tags *[]string) error {
	var err error
	if category != nil {
		if p.CategoryID, err = l.resolveOne(ctx, models.LabelPromptCategory, *category); err != nil {
			return err
		}
	}
	if tags != nil {
		if p.TagIDs, err = l.resolveMany(ctx, models.LabelPromptTag, *tags); err != nil {
			return err
		}
	}
	return nil
}

// Labels lists the labels of kind.
func (l *Library) Labels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error) {
	if !kind.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown label kind: "+string(kind))
	}
	return l.store.ListLabels(ctx, kind)
}

func (l *Library) collection(ctx context.Context, kind models.LabelKind) (*resolver.Collection, error) {
	labels, err := l.store.ListLabels(ctx, kind)
	if err != nil {
		return nil, err
	}
	return resolver.NewCollection(kind, labels), nil
}

func (l *Library) resolveOne(ctx context.Context, kind models.LabelKind, name string) (models.UUID, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	coll, err := l.collection(ctx, kind)
	if err != nil {
		return "", err
	}
	return l.labels.Resolve(ctx, name, coll, nil)
}

func (l *Library) resolveMany(ctx context.Context, kind models.LabelKind, names []string) ([]models.UUID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	coll, err := l.collection(ctx, kind)
	if err != nil {
		return nil, err
	}
	return l.labels.ResolveAll(ctx, names, coll, nil)
}

func validateItem(item *models.Item) error {
	if item.Title == "" {
		return errors.New(errors.ErrValidation, "title is required")
	}
	if !item.Kind.Valid() {
		return errors.New(errors.ErrValidation, "unknown item kind: "+string(item.Kind))
	}
	if item.DueDate != "" {
		if _, err := time.Parse(time.DateOnly, item.DueDate); err != nil {
			return errors.Wrap(errors.ErrValidation, "due date must be YYYY-MM-DD", err)
		}
	}
	return nil
}

func validatePrompt(p *models.Prompt) error {
	if p.Title == "" {
		return errors.New(errors.ErrValidation, "title is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return errors.New(errors.ErrValidation, "content is required")
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
