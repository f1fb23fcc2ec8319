package sync

import (
	"context"
	"slices"

	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/sync/resolver"
	"github.com/kimhsiao/stashsync/internal/sync/transform"
)

// PromptStore is the prompt persistence the prompt adapter needs.
type PromptStore interface {
	FindPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error)
	FindPromptByRemoteID(ctx context.Context, remoteID string) (*models.Prompt, error)
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	UpdatePrompt(ctx context.Context, p *models.Prompt) error
	MarkPromptPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error
	SetPromptSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error
	ListLabels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error)
}

// PromptAdapter syncs the prompt library.
type PromptAdapter struct {
	store    PromptStore
	schema   *transform.Schema
	resolver *resolver.Resolver
}

var _ Adapter[*models.Prompt] = (*PromptAdapter)(nil)

func NewPromptAdapter(store PromptStore, schema *transform.Schema, r *resolver.Resolver) *PromptAdapter {
	return &PromptAdapter{store: store, schema: schema, resolver: r}
}

func (a *PromptAdapter) Family() models.Family { return models.FamilyPrompts }

func (a *PromptAdapter) LocalIDColumn() string { return a.schema.Name(transform.FieldLocalID) }

func (a *PromptAdapter) Begin(ctx context.Context) (Pass[*models.Prompt], error) {
	categories, err := a.store.ListLabels(ctx, models.LabelPromptCategory)
	if err != nil {
		return nil, err
	}
	tags, err := a.store.ListLabels(ctx, models.LabelPromptTag)
	if err != nil {
		return nil, err
	}
	return &promptPass{
		adapter:    a,
		categories: resolver.NewCollection(models.LabelPromptCategory, categories),
		tags:       resolver.NewCollection(models.LabelPromptTag, tags),
	}, nil
}

func (a *PromptAdapter) Find(ctx context.Context, id models.UUID) (*models.Prompt, bool, error) {
	p, err := a.store.FindPrompt(ctx, id)
	return p, p != nil, err
}

func (a *PromptAdapter) FindByRemoteID(ctx context.Context, remoteID string) (*models.Prompt, bool, error) {
	p, err := a.store.FindPromptByRemoteID(ctx, remoteID)
	return p, p != nil, err
}

func (a *PromptAdapter) Create(ctx context.Context, incoming *models.Prompt) error {
	return a.store.CreatePrompt(ctx, incoming)
}

func (a *PromptAdapter) Overwrite(ctx context.Context, local, incoming *models.Prompt) error {
	updated := *incoming
	updated.ID = local.ID
	updated.CreatedAt = local.CreatedAt
	updated.SyncStatus = models.SyncStatusSynced
	return a.store.UpdatePrompt(ctx, &updated)
}

func (a *PromptAdapter) Same(x, y *models.Prompt) bool {
	return x.Title == y.Title &&
		x.Content == y.Content &&
		x.Description == y.Description &&
		x.Favorite == y.Favorite &&
		x.CategoryID == y.CategoryID &&
		slices.Equal(x.TagIDs, y.TagIDs)
}

func (a *PromptAdapter) MarkPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error {
	return a.store.MarkPromptPushed(ctx, id, remoteID, seenUpdatedAt)
}

func (a *PromptAdapter) SetSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error {
	return a.store.SetPromptSyncStatus(ctx, id, status)
}

type promptPass struct {
	adapter    *PromptAdapter
	categories *resolver.Collection
	tags       *resolver.Collection
}

func (p *promptPass) Decode(ctx context.Context, rec *remote.Record) (*models.Prompt, error) {
	f, err := transform.PromptFromRemote(p.adapter.schema, rec)
	if err != nil {
		return nil, err
	}

	r := p.adapter.resolver
	prompt := &models.Prompt{
		ID:          f.LocalID,
		RemoteID:    f.RemoteID,
		Title:       f.Title,
		Content:     f.Content,
		Description: f.Description,
		Favorite:    f.Favorite,
		SyncStatus:  models.SyncStatusSynced,
		CreatedAt:   createdAt(rec),
		UpdatedAt:   f.EditedAt,
	}
	if prompt.CategoryID, err = r.Resolve(ctx, f.Category, p.categories, f.CategoryHint()); err != nil {
		return nil, err
	}
	if prompt.TagIDs, err = r.ResolveAll(ctx, f.Tags, p.tags, f.TagHint); err != nil {
		return nil, err
	}
	return prompt, nil
}

func (p *promptPass) Encode(prompt *models.Prompt) remote.Properties {
	return transform.PromptToRemote(p.adapter.schema, prompt, resolver.Lookup{p.categories, p.tags})
}
