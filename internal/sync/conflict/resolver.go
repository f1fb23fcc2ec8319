// Package conflict decides between a local entity and its remote record.
package conflict

import (
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
)

// Resolver handles conflict resolution during pull.
type Resolver struct {
	strategy ResolutionStrategy
}

// NewResolver creates a new Resolver with the specified strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Conflict is a local entity matched to a remote record.
type Conflict struct {
	Family          models.Family
	EntityID        models.UUID
	LocalTimestamp  int64
	RemoteTimestamp int64
	// LocalPending is set when the local copy has changes not yet pushed.
	LocalPending bool
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	RemoteWins bool
	Resolution string
	Strategy   ResolutionStrategy
	// ConflictLog is set only for concurrent edits, where the losing side
	// held changes of its own.
	ConflictLog *models.ConflictLog
}

// Resolve resolves a conflict using the configured strategy.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil || c.EntityID == "" {
		return nil, ErrInvalidConflict
	}

	// Last-write-wins is the only strategy.
	return r.resolveLastWriteWins(c), nil
}

// resolveLastWriteWins lets the remote win only when strictly newer.
// Equal timestamps keep the local copy.
func (r *Resolver) resolveLastWriteWins(c *Conflict) *ResolveResult {
	result := &ResolveResult{
		RemoteWins: c.RemoteTimestamp > c.LocalTimestamp,
		Resolution: models.ResolutionLocalWins,
		Strategy:   ResolutionStrategyLastWriteWins,
	}
	if result.RemoteWins {
		result.Resolution = models.ResolutionRemoteWins
	}

	if !c.LocalPending {
		return result
	}

	result.ConflictLog = &models.ConflictLog{
		Family:          c.Family,
		EntityID:        c.EntityID,
		LocalTimestamp:  c.LocalTimestamp,
		RemoteTimestamp: c.RemoteTimestamp,
		Resolution:      result.Resolution,
		DetectedAt:      models.NowMillis(),
	}

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"family":           c.Family,
			"entity_id":        c.EntityID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
			"resolution":       result.Resolution,
		})

	return result
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: entity id is required"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
