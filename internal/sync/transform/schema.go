// Package transform maps local entities to remote property bags and back.
//
// Column names live in a Schema so a renamed remote column is a config change,
// not a code change. Everything here is pure; no I/O.
package transform

import (
	"fmt"

	"github.com/kimhsiao/stashsync/internal/sync/remote"
)

// Field identifies a syncable attribute independent of its remote column name.
type Field string

const (
	FieldTitle         Field = "title"
	FieldContent       Field = "content"
	FieldKind          Field = "type"
	FieldURL           Field = "url"
	FieldStatus        Field = "status"
	FieldPriority      Field = "priority"
	FieldDue           Field = "due"
	FieldCategory      Field = "category"
	FieldProject       Field = "project"
	FieldTags          Field = "tags"
	FieldCategoryStyle Field = "category_style"
	FieldProjectStyle  Field = "project_style"
	FieldTagColors     Field = "tag_colors"
	FieldLocalID       Field = "local_id"
	FieldDescription   Field = "description"
	FieldFavorite      Field = "favorite"
)

// Column binds a field to a remote column.
type Column struct {
	Field Field
	Name  string
	Kind  remote.PropertyType
}

// Schema is the field to column table for one family.
type Schema struct {
	columns []Column
	byField map[Field]Column
}

// DefaultItemColumns returns the stock column layout for items.
func DefaultItemColumns() []Column {
	return []Column{
		{FieldTitle, "Name", remote.TypeTitle},
		{FieldContent, "Content", remote.TypeRichText},
		{FieldKind, "Type", remote.TypeSelect},
		{FieldURL, "URL", remote.TypeURL},
		{FieldStatus, "Status", remote.TypeSelect},
		{FieldPriority, "Priority", remote.TypeSelect},
		{FieldDue, "Due", remote.TypeDate},
		{FieldCategory, "Category", remote.TypeSelect},
		{FieldProject, "Project", remote.TypeSelect},
		{FieldTags, "Tags", remote.TypeMultiSelect},
		{FieldCategoryStyle, "Category Style", remote.TypeRichText},
		{FieldProjectStyle, "Project Style", remote.TypeRichText},
		{FieldTagColors, "Tag Colors", remote.TypeRichText},
		{FieldLocalID, "Local ID", remote.TypeRichText},
	}
}

// DefaultPromptColumns returns the stock column layout for prompts.
func DefaultPromptColumns() []Column {
	return []Column{
		{FieldTitle, "Name", remote.TypeTitle},
		{FieldContent, "Prompt", remote.TypeRichText},
		{FieldDescription, "Description", remote.TypeRichText},
		{FieldCategory, "Category", remote.TypeSelect},
		{FieldTags, "Tags", remote.TypeMultiSelect},
		{FieldFavorite, "Favorite", remote.TypeCheckbox},
		{FieldCategoryStyle, "Category Style", remote.TypeRichText},
		{FieldTagColors, "Tag Colors", remote.TypeRichText},
		{FieldLocalID, "Local ID", remote.TypeRichText},
	}
}

// NewSchema builds a schema from cols, renaming columns per overrides
// (field name to column name). Unknown override fields, duplicate fields and
// duplicate column names are rejected.
func NewSchema(cols []Column, overrides map[string]string) (*Schema, error) {
	s := &Schema{byField: make(map[Field]Column, len(cols))}
	for _, c := range cols {
		if _, dup := s.byField[c.Field]; dup {
			return nil, fmt.Errorf("duplicate field %q", c.Field)
		}
		s.byField[c.Field] = c
	}
	for field, name := range overrides {
		c, ok := s.byField[Field(field)]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", field)
		}
		if name == "" {
			continue
		}
		c.Name = name
		s.byField[c.Field] = c
	}

	names := make(map[string]Field, len(cols))
	for _, c := range cols {
		c = s.byField[c.Field]
		if c.Name == "" {
			return nil, fmt.Errorf("field %q has no column name", c.Field)
		}
		if other, dup := names[c.Name]; dup {
			return nil, fmt.Errorf("column %q used by %q and %q", c.Name, other, c.Field)
		}
		names[c.Name] = c.Field
		s.columns = append(s.columns, c)
	}
	return s, nil
}

// ItemSchema is NewSchema over DefaultItemColumns.
func ItemSchema(overrides map[string]string) (*Schema, error) {
	return NewSchema(DefaultItemColumns(), overrides)
}

// PromptSchema is NewSchema over DefaultPromptColumns.
func PromptSchema(overrides map[string]string) (*Schema, error) {
	return NewSchema(DefaultPromptColumns(), overrides)
}

// Columns returns the columns in declaration order.
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Column looks up the column for f.
func (s *Schema) Column(f Field) (Column, bool) {
	c, ok := s.byField[f]
	return c, ok
}

// Name returns the remote column name for f, or "" if f is not mapped.
func (s *Schema) Name(f Field) string {
	return s.byField[f].Name
}

// bag wraps a property bag with schema-aware accessors.
type bag struct {
	schema *Schema
	props  remote.Properties
}

func (b bag) set(f Field, p remote.Property) {
	c, ok := b.schema.byField[f]
	if !ok {
		return
	}
	p.Type = c.Kind
	b.props[c.Name] = p
}

// get returns the property for f. A column of the wrong type is an error;
// a missing column yields ok == false.
func (b bag) get(f Field) (remote.Property, bool, error) {
	c, ok := b.schema.byField[f]
	if !ok {
		return remote.Property{}, false, nil
	}
	p, ok := b.props[c.Name]
	if !ok {
		return remote.Property{}, false, nil
	}
	if p.Type != c.Kind {
		return remote.Property{}, false, fmt.Errorf("column %q: expected %s, got %s", c.Name, c.Kind, p.Type)
	}
	return p, true, nil
}

func (b bag) text(f Field) (string, error) {
	p, ok, err := b.get(f)
	if err != nil || !ok {
		return "", err
	}
	if p.Type == remote.TypeTitle {
		return Join(p.Title), nil
	}
	return Join(p.RichText), nil
}

func (b bag) selectName(f Field) (string, error) {
	p, ok, err := b.get(f)
	if err != nil || !ok || p.Select == nil {
		return "", err
	}
	return p.Select.Name, nil
}

func (b bag) multiSelect(f Field) ([]string, error) {
	p, ok, err := b.get(f)
	if err != nil || !ok {
		return nil, err
	}
	names := make([]string, 0, len(p.MultiSelect))
	for _, o := range p.MultiSelect {
		names = append(names, o.Name)
	}
	return names, nil
}

func (b bag) url(f Field) (string, error) {
	p, ok, err := b.get(f)
	if err != nil || !ok || p.URL == nil {
		return "", err
	}
	return *p.URL, nil
}

func (b bag) date(f Field) (string, error) {
	p, ok, err := b.get(f)
	if err != nil || !ok || p.Date == nil {
		return "", err
	}
	start := p.Date.Start
	if len(start) > len("2006-01-02") {
		start = start[:len("2006-01-02")]
	}
	return start, nil
}

func (b bag) checkbox(f Field) (bool, error) {
	p, _, err := b.get(f)
	return p.Checkbox, err
}

func textProp(s string) remote.Property {
	return remote.Property{Title: Split(s), RichText: Split(s)}
}

func selectProp(name string) remote.Property {
	if name == "" {
		return remote.Property{}
	}
	return remote.Property{Select: &remote.SelectOption{Name: name}}
}

func multiSelectProp(names []string) remote.Property {
	opts := make([]remote.SelectOption, 0, len(names))
	for _, n := range names {
		opts = append(opts, remote.SelectOption{Name: n})
	}
	return remote.Property{MultiSelect: opts}
}

func urlProp(u string) remote.Property {
	if u == "" {
		return remote.Property{}
	}
	return remote.Property{URL: &u}
}

func dateProp(d string) remote.Property {
	if d == "" {
		return remote.Property{}
	}
	return remote.Property{Date: &remote.DateValue{Start: d}}
}
