package sync

import (
	"context"
	"slices"

	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/sync/resolver"
	"github.com/kimhsiao/stashsync/internal/sync/transform"
)

// ItemStore is the item persistence the item adapter needs.
type ItemStore interface {
	FindItem(ctx context.Context, id models.UUID) (*models.Item, error)
	FindItemByRemoteID(ctx context.Context, remoteID string) (*models.Item, error)
	CreateItem(ctx context.Context, item *models.Item) error
	UpdateItem(ctx context.Context, item *models.Item) error
	MarkItemPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error
	SetItemSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error
	ListLabels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error)
}

// ItemAdapter syncs tasks, bookmarks and notes.
type ItemAdapter struct {
	store    ItemStore
	schema   *transform.Schema
	resolver *resolver.Resolver
}

var _ Adapter[*models.Item] = (*ItemAdapter)(nil)

func NewItemAdapter(store ItemStore, schema *transform.Schema, r *resolver.Resolver) *ItemAdapter {
	return &ItemAdapter{store: store, schema: schema, resolver: r}
}

func (a *ItemAdapter) Family() models.Family { return models.FamilyItems }

func (a *ItemAdapter) LocalIDColumn() string { return a.schema.Name(transform.FieldLocalID) }

func (a *ItemAdapter) Begin(ctx context.Context) (Pass[*models.Item], error) {
	p := &itemPass{adapter: a}
	var err error
	if p.categories, err = a.collection(ctx, models.LabelCategory); err != nil {
		return nil, err
	}
	if p.projects, err = a.collection(ctx, models.LabelProject); err != nil {
		return nil, err
	}
	if p.tags, err = a.collection(ctx, models.LabelTag); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *ItemAdapter) collection(ctx context.Context, kind models.LabelKind) (*resolver.Collection, error) {
	labels, err := a.store.ListLabels(ctx, kind)
	if err != nil {
		return nil, err
	}
	return resolver.NewCollection(kind, labels), nil
}

func (a *ItemAdapter) Find(ctx context.Context, id models.UUID) (*models.Item, bool, error) {
	item, err := a.store.FindItem(ctx, id)
	return item, item != nil, err
}

func (a *ItemAdapter) FindByRemoteID(ctx context.Context, remoteID string) (*models.Item, bool, error) {
	item, err := a.store.FindItemByRemoteID(ctx, remoteID)
	return item, item != nil, err
}

func (a *ItemAdapter) Create(ctx context.Context, incoming *models.Item) error {
	return a.store.CreateItem(ctx, incoming)
}

func (a *ItemAdapter) Overwrite(ctx context.Context, local, incoming *models.Item) error {
	updated := *incoming
	updated.ID = local.ID
	updated.CreatedAt = local.CreatedAt
	updated.SyncStatus = models.SyncStatusSynced
	return a.store.UpdateItem(ctx, &updated)
}

func (a *ItemAdapter) Same(x, y *models.Item) bool {
	return x.Kind == y.Kind &&
		x.Title == y.Title &&
		x.Content == y.Content &&
		x.URL == y.URL &&
		x.Status == y.Status &&
		x.Priority == y.Priority &&
		x.DueDate == y.DueDate &&
		x.CategoryID == y.CategoryID &&
		x.ProjectID == y.ProjectID &&
		slices.Equal(x.TagIDs, y.TagIDs)
}

func (a *ItemAdapter) MarkPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error {
	return a.store.MarkItemPushed(ctx, id, remoteID, seenUpdatedAt)
}

func (a *ItemAdapter) SetSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error {
	return a.store.SetItemSyncStatus(ctx, id, status)
}

type itemPass struct {
	adapter    *ItemAdapter
	categories *resolver.Collection
	projects   *resolver.Collection
	tags       *resolver.Collection
}

func (p *itemPass) Decode(ctx context.Context, rec *remote.Record) (*models.Item, error) {
	f, err := transform.ItemFromRemote(p.adapter.schema, rec)
	if err != nil {
		return nil, err
	}

	r := p.adapter.resolver
	item := &models.Item{
		ID:         f.LocalID,
		RemoteID:   f.RemoteID,
		Kind:       f.Kind,
		Title:      f.Title,
		Content:    f.Content,
		URL:        f.URL,
		Status:     f.Status,
		Priority:   f.Priority,
		DueDate:    f.DueDate,
		SyncStatus: models.SyncStatusSynced,
		CreatedAt:  createdAt(rec),
		UpdatedAt:  f.EditedAt,
	}
	if item.CategoryID, err = r.Resolve(ctx, f.Category, p.categories, f.CategoryHint()); err != nil {
		return nil, err
	}
	if item.ProjectID, err = r.Resolve(ctx, f.Project, p.projects, f.ProjectHint()); err != nil {
		return nil, err
	}
	if item.TagIDs, err = r.ResolveAll(ctx, f.Tags, p.tags, f.TagHint); err != nil {
		return nil, err
	}
	return item, nil
}

func (p *itemPass) Encode(item *models.Item) remote.Properties {
	return transform.ItemToRemote(p.adapter.schema, item, resolver.Lookup{p.categories, p.projects, p.tags})
}

func createdAt(rec *remote.Record) int64 {
	if rec.CreatedTime.IsZero() {
		return rec.EditedAt()
	}
	return rec.CreatedTime.UnixMilli()
}
