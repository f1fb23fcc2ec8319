// Package resolver turns remote label names into local label IDs, creating
// labels on first sight.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/transform"
)

// DefaultPalette is cycled through for labels created without a color hint.
var DefaultPalette = []string{
	"#3B82F6", "#EF4444", "#10B981", "#F59E0B",
	"#8B5CF6", "#EC4899", "#14B8A6", "#6B7280",
}

var defaultIcons = map[models.LabelKind]string{
	models.LabelCategory:       "folder",
	models.LabelProject:        "briefcase",
	models.LabelTag:            "tag",
	models.LabelPromptCategory: "folder",
	models.LabelPromptTag:      "tag",
}

// DefaultIcon returns the icon given to new labels of kind.
func DefaultIcon(kind models.LabelKind) string {
	return defaultIcons[kind]
}

// Store is the label persistence the resolver needs.
type Store interface {
	CreateLabel(ctx context.Context, l *models.Label) error
	FindLabelByName(ctx context.Context, kind models.LabelKind, name string) (*models.Label, error)
}

// Collection is the in-memory set of labels of one kind for a pull pass.
type Collection struct {
	kind   models.LabelKind
	labels []*models.Label
	byID   map[models.UUID]*models.Label
}

// NewCollection wraps labels of kind. Labels of other kinds are ignored.
func NewCollection(kind models.LabelKind, labels []*models.Label) *Collection {
	c := &Collection{kind: kind, byID: make(map[models.UUID]*models.Label, len(labels))}
	for _, l := range labels {
		if l != nil && l.Kind == kind {
			c.add(l)
		}
	}
	return c
}

func (c *Collection) Kind() models.LabelKind { return c.kind }

func (c *Collection) Len() int { return len(c.labels) }

// Label implements transform.LabelLookup.
func (c *Collection) Label(id models.UUID) (*models.Label, bool) {
	l, ok := c.byID[id]
	return l, ok
}

// Find returns the label named name, ignoring case and surrounding space.
func (c *Collection) Find(name string) *models.Label {
	name = strings.TrimSpace(name)
	for _, l := range c.labels {
		if strings.EqualFold(l.Name, name) {
			return l
		}
	}
	return nil
}

func (c *Collection) add(l *models.Label) {
	if _, ok := c.byID[l.ID]; ok {
		return
	}
	c.labels = append(c.labels, l)
	c.byID[l.ID] = l
}

// Lookup chains collections into one transform.LabelLookup.
type Lookup []*Collection

func (ls Lookup) Label(id models.UUID) (*models.Label, bool) {
	for _, c := range ls {
		if c == nil {
			continue
		}
		if l, ok := c.Label(id); ok {
			return l, true
		}
	}
	return nil, false
}

// Resolver creates missing labels and remembers them in the collection it was
// handed, so repeated names within a pass map to one label.
type Resolver struct {
	store   Store
	palette []string

	mu   sync.Mutex
	next int
}

// New creates a Resolver. An empty palette selects DefaultPalette.
func New(store Store, palette []string) *Resolver {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &Resolver{store: store, palette: palette}
}

// Resolve returns the ID of the label named name in coll, creating it when
// missing. Hint supplies the color and icon for a new label. An empty name
// resolves to "".
func (r *Resolver) Resolve(ctx context.Context, name string, coll *Collection, hint *transform.Style) (models.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l := coll.Find(name); l != nil {
		return l.ID, nil
	}

	l := &models.Label{Kind: coll.kind, Name: name}
	if hint != nil {
		l.Color = hint.Color
		l.Icon = hint.Icon
	}
	if l.Color == "" {
		l.Color = r.palette[r.next%len(r.palette)]
		r.next++
	}
	if l.Icon == "" {
		l.Icon = DefaultIcon(coll.kind)
	}

	err := r.store.CreateLabel(ctx, l)
	if apperrors.Is(err, apperrors.ErrDuplicate) {
		// Created since the collection was loaded.
		existing, findErr := r.store.FindLabelByName(ctx, coll.kind, name)
		if findErr != nil {
			return "", findErr
		}
		if existing == nil {
			return "", err
		}
		l = existing
	} else if err != nil {
		return "", fmt.Errorf("create %s %q: %w", coll.kind, name, err)
	}

	coll.add(l)
	return l.ID, nil
}

// ResolveAll resolves names in order, dropping blanks and duplicate IDs.
func (r *Resolver) ResolveAll(ctx context.Context, names []string, coll *Collection, hint func(name string) *transform.Style) ([]models.UUID, error) {
	ids := make([]models.UUID, 0, len(names))
	seen := make(map[models.UUID]bool, len(names))
	for _, name := range names {
		var h *transform.Style
		if hint != nil {
			h = hint(name)
		}
		id, err := r.Resolve(ctx, name, coll, h)
		if err != nil {
			return nil, err
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
