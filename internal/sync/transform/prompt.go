package transform

import (
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
)

// PromptFields is a prompt as read from the remote.
type PromptFields struct {
	RemoteID string
	LocalID  models.UUID
	EditedAt int64
	Archived bool

	Title       string
	Content     string
	Description string
	Favorite    bool

	Category string
	Tags     []string

	CategoryStyle map[string]Style
	TagStyles     map[string]Style
}

func (f *PromptFields) CategoryHint() *Style { return hint(f.CategoryStyle, f.Category) }

func (f *PromptFields) TagHint(name string) *Style { return hint(f.TagStyles, name) }

// PromptToRemote renders p as a property bag.
func PromptToRemote(s *Schema, p *models.Prompt, lookup LabelLookup) remote.Properties {
	b := bag{schema: s, props: remote.Properties{}}

	b.set(FieldTitle, textProp(p.Title))
	b.set(FieldContent, textProp(p.Content))
	b.set(FieldDescription, textProp(p.Description))
	b.set(FieldFavorite, remote.Property{Checkbox: p.Favorite})

	category := label(lookup, p.CategoryID)
	b.set(FieldCategory, selectProp(labelName(category)))
	b.set(FieldCategoryStyle, textProp(EncodeStyles(styleMap(category))))

	tags, tagStyles := tagNames(lookup, p.TagIDs)
	b.set(FieldTags, multiSelectProp(tags))
	b.set(FieldTagColors, textProp(EncodeStyles(tagStyles)))

	b.set(FieldLocalID, textProp(string(p.ID)))
	return b.props
}

// PromptFromRemote decodes rec.
func PromptFromRemote(s *Schema, rec *remote.Record) (*PromptFields, error) {
	b := bag{schema: s, props: rec.Properties}
	f := &PromptFields{
		RemoteID: rec.ID,
		EditedAt: rec.EditedAt(),
		Archived: rec.Removed(),
	}

	var err error
	if f.Title, err = b.text(FieldTitle); err != nil {
		return nil, err
	}
	if f.Content, err = b.text(FieldContent); err != nil {
		return nil, err
	}
	if f.Description, err = b.text(FieldDescription); err != nil {
		return nil, err
	}
	if f.Favorite, err = b.checkbox(FieldFavorite); err != nil {
		return nil, err
	}
	if f.Category, err = b.selectName(FieldCategory); err != nil {
		return nil, err
	}
	if f.Tags, err = b.multiSelect(FieldTags); err != nil {
		return nil, err
	}
	if f.CategoryStyle, err = b.styles(FieldCategoryStyle); err != nil {
		return nil, err
	}
	if f.TagStyles, err = b.styles(FieldTagColors); err != nil {
		return nil, err
	}
	if f.LocalID, err = b.localID(FieldLocalID); err != nil {
		return nil, err
	}
	return f, nil
}
