// Package uuid generates and parses the local identifiers of stashsync entities.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kimhsiao/stashsync/internal/models"
)

// New generates a new UUID v4.
func New() models.UUID {
	return models.UUID(uuid.New().String())
}

// Parse normalizes s to the canonical lowercase, hyphenated form.
// Local IDs read back from the remote store may have been retyped by hand,
// so braces, urn prefixes and upper case are accepted.
func Parse(s string) (models.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	if id == uuid.Nil {
		return "", fmt.Errorf("invalid UUID %q: nil UUID", s)
	}
	return models.UUID(id.String()), nil
}

// IsValid checks if s parses as a non-nil UUID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
