package transform

import (
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

// LabelLookup resolves label IDs to labels when writing to the remote.
type LabelLookup interface {
	Label(id models.UUID) (*models.Label, bool)
}

// ItemFields is an item as read from the remote. Relations are names, not IDs.
type ItemFields struct {
	RemoteID string
	LocalID  models.UUID
	EditedAt int64
	Archived bool

	Kind     models.ItemKind
	Title    string
	Content  string
	URL      string
	Status   string
	Priority string
	DueDate  string

	Category string
	Project  string
	Tags     []string

	CategoryStyle map[string]Style
	ProjectStyle  map[string]Style
	TagStyles     map[string]Style
}

// CategoryHint returns the side-channel style for the category, if any.
func (f *ItemFields) CategoryHint() *Style { return hint(f.CategoryStyle, f.Category) }

// ProjectHint returns the side-channel style for the project, if any.
func (f *ItemFields) ProjectHint() *Style { return hint(f.ProjectStyle, f.Project) }

// TagHint returns the side-channel style for tag name.
func (f *ItemFields) TagHint(name string) *Style { return hint(f.TagStyles, name) }

// ItemToRemote renders item as a property bag. Label IDs unknown to lookup are
// left out.
func ItemToRemote(s *Schema, item *models.Item, lookup LabelLookup) remote.Properties {
	b := bag{schema: s, props: remote.Properties{}}

	b.set(FieldTitle, textProp(item.Title))
	b.set(FieldContent, textProp(item.Content))
	b.set(FieldKind, selectProp(string(item.Kind)))
	b.set(FieldURL, urlProp(item.URL))
	b.set(FieldStatus, selectProp(item.Status))
	b.set(FieldPriority, selectProp(item.Priority))
	b.set(FieldDue, dateProp(item.DueDate))

	category := label(lookup, item.CategoryID)
	project := label(lookup, item.ProjectID)
	b.set(FieldCategory, selectProp(labelName(category)))
	b.set(FieldProject, selectProp(labelName(project)))
	b.set(FieldCategoryStyle, textProp(EncodeStyles(styleMap(category))))
	b.set(FieldProjectStyle, textProp(EncodeStyles(styleMap(project))))

	tags, tagStyles := tagNames(lookup, item.TagIDs)
	b.set(FieldTags, multiSelectProp(tags))
	b.set(FieldTagColors, textProp(EncodeStyles(tagStyles)))

	b.set(FieldLocalID, textProp(string(item.ID)))
	return b.props
}

// ItemFromRemote decodes rec. A column of the wrong type is an error; a
// malformed side channel or embedded ID is ignored.
func ItemFromRemote(s *Schema, rec *remote.Record) (*ItemFields, error) {
	b := bag{schema: s, props: rec.Properties}
	f := &ItemFields{
		RemoteID: rec.ID,
		EditedAt: rec.EditedAt(),
		Archived: rec.Removed(),
	}

	var (
		kind string
		err  error
	)
	if f.Title, err = b.text(FieldTitle); err != nil {
		return nil, err
	}
	if f.Content, err = b.text(FieldContent); err != nil {
		return nil, err
	}
	if kind, err = b.selectName(FieldKind); err != nil {
		return nil, err
	}
	if f.URL, err = b.url(FieldURL); err != nil {
		return nil, err
	}
	if f.Status, err = b.selectName(FieldStatus); err != nil {
		return nil, err
	}
	if f.Priority, err = b.selectName(FieldPriority); err != nil {
		return nil, err
	}
	if f.DueDate, err = b.date(FieldDue); err != nil {
		return nil, err
	}
	if f.Category, err = b.selectName(FieldCategory); err != nil {
		return nil, err
	}
	if f.Project, err = b.selectName(FieldProject); err != nil {
		return nil, err
	}
	if f.Tags, err = b.multiSelect(FieldTags); err != nil {
		return nil, err
	}
	if f.CategoryStyle, err = b.styles(FieldCategoryStyle); err != nil {
		return nil, err
	}
	if f.ProjectStyle, err = b.styles(FieldProjectStyle); err != nil {
		return nil, err
	}
	if f.TagStyles, err = b.styles(FieldTagColors); err != nil {
		return nil, err
	}
	if f.LocalID, err = b.localID(FieldLocalID); err != nil {
		return nil, err
	}

	f.Kind = models.ItemKind(kind)
	if !f.Kind.Valid() {
		f.Kind = models.ItemKindNote
	}
	return f, nil
}

func (b bag) styles(f Field) (map[string]Style, error) {
	raw, err := b.text(f)
	if err != nil {
		return nil, err
	}
	styles, err := DecodeStyles(raw)
	if err != nil {
		return nil, nil
	}
	return styles, nil
}

func (b bag) localID(f Field) (models.UUID, error) {
	raw, err := b.text(f)
	if err != nil || raw == "" {
		return "", err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", nil
	}
	return id, nil
}

func label(lookup LabelLookup, id models.UUID) *models.Label {
	if lookup == nil || id == "" {
		return nil
	}
	l, ok := lookup.Label(id)
	if !ok {
		return nil
	}
	return l
}

func labelName(l *models.Label) string {
	if l == nil {
		return ""
	}
	return l.Name
}

func styleMap(l *models.Label) map[string]Style {
	if l == nil {
		return nil
	}
	return map[string]Style{l.Name: StyleOf(l)}
}

func tagNames(lookup LabelLookup, ids []models.UUID) ([]string, map[string]Style) {
	names := make([]string, 0, len(ids))
	styles := make(map[string]Style, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		l := label(lookup, id)
		if l == nil || seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		names = append(names, l.Name)
		styles[l.Name] = StyleOf(l)
	}
	return names, styles
}
