package remote

import (
	"encoding/json"
	"fmt"
	"time"
)

// PropertyType names the kind of value a remote column holds.
type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multi_select"
	TypeURL         PropertyType = "url"
	TypeDate        PropertyType = "date"
	TypeCheckbox    PropertyType = "checkbox"
)

// TextContent is the payload of a text rich-text segment.
type TextContent struct {
	Content string `json:"content"`
}

// RichText is one segment of a title or rich_text value.
type RichText struct {
	Type      string       `json:"type"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

// Plain returns the segment text.
func (r RichText) Plain() string {
	if r.PlainText != "" {
		return r.PlainText
	}
	if r.Text != nil {
		return r.Text.Content
	}
	return ""
}

// Text builds a text segment.
func Text(s string) RichText {
	return RichText{Type: "text", Text: &TextContent{Content: s}}
}

// SelectOption is a select or multi_select value.
type SelectOption struct {
	Name string `json:"name"`
}

// DateValue is a date property value. Start is YYYY-MM-DD or an RFC 3339 time.
type DateValue struct {
	Start string `json:"start"`
}

// Property is a typed column value. Only the field matching Type is meaningful.
type Property struct {
	Type        PropertyType
	Title       []RichText
	RichText    []RichText
	Select      *SelectOption
	MultiSelect []SelectOption
	URL         *string
	Date        *DateValue
	Checkbox    bool
}

// MarshalJSON emits {"type": T, T: value}. Empty select, url and date values
// are sent as null, which clears the column remotely.
func (p Property) MarshalJSON() ([]byte, error) {
	var value any
	switch p.Type {
	case TypeTitle:
		value = nonNil(p.Title)
	case TypeRichText:
		value = nonNil(p.RichText)
	case TypeSelect:
		value = p.Select
	case TypeMultiSelect:
		if p.MultiSelect == nil {
			value = []SelectOption{}
		} else {
			value = p.MultiSelect
		}
	case TypeURL:
		value = p.URL
	case TypeDate:
		value = p.Date
	case TypeCheckbox:
		value = p.Checkbox
	default:
		return nil, fmt.Errorf("unsupported property type %q", p.Type)
	}
	return json.Marshal(map[string]any{
		"type":         p.Type,
		string(p.Type): value,
	})
}

// UnmarshalJSON decodes the typed value. Unknown types decode to an empty Property.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        PropertyType   `json:"type"`
		Title       []RichText     `json:"title"`
		RichText    []RichText     `json:"rich_text"`
		Select      *SelectOption  `json:"select"`
		MultiSelect []SelectOption `json:"multi_select"`
		URL         *string        `json:"url"`
		Date        *DateValue     `json:"date"`
		Checkbox    bool           `json:"checkbox"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Property{
		Type:        raw.Type,
		Title:       raw.Title,
		RichText:    raw.RichText,
		Select:      raw.Select,
		MultiSelect: raw.MultiSelect,
		URL:         raw.URL,
		Date:        raw.Date,
		Checkbox:    raw.Checkbox,
	}
	return nil
}

func nonNil(rt []RichText) []RichText {
	if rt == nil {
		return []RichText{}
	}
	return rt
}

// Properties maps column names to values.
type Properties map[string]Property

// Record is one remote document.
type Record struct {
	ID             string     `json:"id"`
	CreatedTime    time.Time  `json:"created_time"`
	LastEditedTime time.Time  `json:"last_edited_time"`
	Archived       bool       `json:"archived"`
	InTrash        bool       `json:"in_trash"`
	Properties     Properties `json:"properties"`
}

// Removed reports whether the record was archived or trashed remotely.
func (r *Record) Removed() bool {
	return r.Archived || r.InTrash
}

// EditedAt returns the last edit time in Unix milliseconds.
func (r *Record) EditedAt() int64 {
	return r.LastEditedTime.UnixMilli()
}

// TextCondition filters on a text column.
type TextCondition struct {
	Equals   string `json:"equals,omitempty"`
	Contains string `json:"contains,omitempty"`
}

// TimestampCondition filters on a record timestamp.
type TimestampCondition struct {
	OnOrAfter string `json:"on_or_after,omitempty"`
}

// Filter is a single query condition.
type Filter struct {
	Property       string              `json:"property,omitempty"`
	Timestamp      string              `json:"timestamp,omitempty"`
	RichText       *TextCondition      `json:"rich_text,omitempty"`
	Title          *TextCondition      `json:"title,omitempty"`
	LastEditedTime *TimestampCondition `json:"last_edited_time,omitempty"`
}

// EditedSince matches records edited at or after t.
func EditedSince(t time.Time) *Filter {
	return &Filter{
		Timestamp:      "last_edited_time",
		LastEditedTime: &TimestampCondition{OnOrAfter: t.UTC().Format(time.RFC3339)},
	}
}

// TextEquals matches records whose rich_text column equals value.
func TextEquals(column, value string) *Filter {
	return &Filter{Property: column, RichText: &TextCondition{Equals: value}}
}

// QueryRequest is the body of a database query.
type QueryRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// QueryResponse is one page of query results.
type QueryResponse struct {
	Results    []Record `json:"results"`
	HasMore    bool     `json:"has_more"`
	NextCursor *string  `json:"next_cursor"`
}

type parent struct {
	DatabaseID string `json:"database_id"`
}

type createRequest struct {
	Parent     parent     `json:"parent"`
	Properties Properties `json:"properties"`
}

type updateRequest struct {
	Properties Properties `json:"properties,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
}
