package queue

import (
	"encoding/json"
	"fmt"

	"github.com/kimhsiao/stashsync/internal/models"
)

// Mutation is one of Create, Update or Delete.
type Mutation interface {
	Op() models.QueueOperation
	isMutation()
}

// Create pushes a new entity.
type Create struct{}

// Update pushes the current state of an entity.
type Update struct{}

// Delete archives the remote record. The entity row is gone by the time the
// entry drains, so the snapshot carries what the push needs.
type Delete struct {
	RemoteID string `json:"remote_id,omitempty"`
	Title    string `json:"title,omitempty"`
}

func (Create) Op() models.QueueOperation { return models.OpCreate }
func (Update) Op() models.QueueOperation { return models.OpUpdate }
func (Delete) Op() models.QueueOperation { return models.OpDelete }

func (Create) isMutation() {}
func (Update) isMutation() {}
func (Delete) isMutation() {}

// Decode rebuilds the mutation stored in e.
func Decode(e *models.SyncQueueEntry) (Mutation, error) {
	switch e.Operation {
	case models.OpCreate:
		return Create{}, nil
	case models.OpUpdate:
		return Update{}, nil
	case models.OpDelete:
		var d Delete
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &d); err != nil {
				return nil, fmt.Errorf("decode delete payload of %s: %w", e.ID, err)
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown queue operation %q", e.Operation)
	}
}

func encode(m Mutation) (json.RawMessage, error) {
	d, ok := m.(Delete)
	if !ok {
		return nil, nil
	}
	return json.Marshal(d)
}
