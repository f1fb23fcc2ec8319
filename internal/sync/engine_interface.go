// Package sync drives bidirectional sync between the local store and the
// remote document database.
package sync

import (
	"context"

	"github.com/kimhsiao/stashsync/internal/models"
)

// Syncer is the family-independent view of an Engine. Triggers and the HTTP
// layer depend on it rather than on a concrete Engine instantiation.
type Syncer interface {
	// Family names the entity family this syncer owns.
	Family() models.Family

	// Sync performs one full cycle (pull, then push). It fails with
	// SYNC_IN_PROGRESS when a cycle is already running.
	Sync(ctx context.Context, opts Options) (*Result, error)

	// State returns the current phase.
	State() State

	// LastResult returns the result of the most recent finished cycle, or nil.
	LastResult() *Result

	// SetEventHandler sets the handler notified about cycle lifecycle events.
	SetEventHandler(handler EventHandler)
}

// EventType names a cycle lifecycle event.
type EventType string

const (
	EventStarted   EventType = "sync.started"
	EventCompleted EventType = "sync.completed"
	EventFailed    EventType = "sync.failed"
	EventRejected  EventType = "sync.rejected"
)

// Event is delivered to an EventHandler.
type Event struct {
	Type   EventType     `json:"type"`
	Family models.Family `json:"family"`
	Result *Result       `json:"result,omitempty"`
}

// EventHandler receives events synchronously on the syncing goroutine.
type EventHandler func(Event)
