package sync

import (
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
)

// Phase identifies where an error was raised.
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhasePull  Phase = "pull"
	PhasePush  Phase = "push"
)

// SyncError is one error collected during a cycle.
type SyncError struct {
	Code     apperrors.ErrorCode `json:"code"`
	Phase    Phase               `json:"phase"`
	EntityID models.UUID         `json:"entity_id,omitempty"`
	Message  string              `json:"message"`
}

func (e SyncError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("[%s] %s %s: %s", e.Code, e.Phase, e.EntityID, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Phase, e.Message)
}

// Result aggregates one cycle. Success is false whenever Errors is non-empty.
type Result struct {
	Family    models.Family `json:"family"`
	Success   bool          `json:"success"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Skipped   int           `json:"skipped"`
	Conflicts int           `json:"conflicts"`
	Errors    []SyncError   `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func newResult(family models.Family) *Result {
	return &Result{Family: family, Errors: []SyncError{}, StartedAt: time.Now()}
}

func (r *Result) addError(phase Phase, code apperrors.ErrorCode, entityID models.UUID, err error) {
	r.Errors = append(r.Errors, SyncError{Code: code, Phase: phase, EntityID: entityID, Message: err.Error()})
}

func (r *Result) errorsIn(phase Phase) int {
	n := 0
	for _, e := range r.Errors {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

func (r *Result) finish() {
	r.Success = len(r.Errors) == 0
	r.Duration = time.Since(r.StartedAt)
}

// Err summarizes a failed result as an AppError, or nil when it succeeded.
func (r *Result) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	first := r.Errors[0]
	if len(r.Errors) == 1 {
		return apperrors.New(first.Code, first.Message)
	}
	return apperrors.New(apperrors.ErrSyncFailed, fmt.Sprintf("%d errors, first: %s", len(r.Errors), first.Error()))
}
