package transform

import (
	"encoding/json"
	"strings"

	"github.com/kimhsiao/stashsync/internal/models"
)

// Style is presentation metadata the remote has no column type for.
type Style struct {
	Color string `json:"c,omitempty"`
	Icon  string `json:"i,omitempty"`
}

// IsZero reports whether s carries nothing.
func (s Style) IsZero() bool {
	return s.Color == "" && s.Icon == ""
}

// StyleOf returns the style of l.
func StyleOf(l *models.Label) Style {
	if l == nil {
		return Style{}
	}
	return Style{Color: l.Color, Icon: l.Icon}
}

// EncodeStyles renders styles as compact JSON keyed by name. Zero styles are
// dropped; an empty result encodes as "".
func EncodeStyles(styles map[string]Style) string {
	clean := make(map[string]Style, len(styles))
	for name, st := range styles {
		if name != "" && !st.IsZero() {
			clean[name] = st
		}
	}
	if len(clean) == 0 {
		return ""
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeStyles parses EncodeStyles output. Blank input yields nil.
func DecodeStyles(s string) (map[string]Style, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out map[string]Style
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// hint finds the style for name, matching case-insensitively.
func hint(styles map[string]Style, name string) *Style {
	if name == "" || len(styles) == 0 {
		return nil
	}
	if st, ok := styles[name]; ok {
		return &st
	}
	for k, st := range styles {
		if strings.EqualFold(k, name) {
			return &st
		}
	}
	return nil
}
