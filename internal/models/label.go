package models

// LabelKind scopes a label namespace. Names are unique per kind, ignoring case.
type LabelKind string

const (
	LabelCategory       LabelKind = "category"
	LabelProject        LabelKind = "project"
	LabelTag            LabelKind = "tag"
	LabelPromptCategory LabelKind = "prompt_category"
	LabelPromptTag      LabelKind = "prompt_tag"
)

// Valid reports whether k is a known label kind.
func (k LabelKind) Valid() bool {
	switch k {
	case LabelCategory, LabelProject, LabelTag, LabelPromptCategory, LabelPromptTag:
		return true
	}
	return false
}

// Label is a category, project or tag referenced by items and prompts.
type Label struct {
	ID        UUID      `db:"id" json:"id"`
	Kind      LabelKind `db:"kind" json:"kind"`
	Name      string    `db:"name" json:"name"`
	Color     string    `db:"color" json:"color,omitempty"`
	Icon      string    `db:"icon" json:"icon,omitempty"`
	CreatedAt int64     `db:"created_at" json:"created_at"`
	UpdatedAt int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Label.
func (Label) TableName() string {
	return "labels"
}
