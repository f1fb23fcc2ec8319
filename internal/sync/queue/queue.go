// Package queue is the durable outbox of local mutations awaiting push.
//
// Entries live in the local store, one Queue per sync family. Enqueue folds a
// new mutation into a queued entry for the same entity where possible; Drain
// hands entries to a processor in enqueue order and does the retry accounting.
package queue

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
)

// MaxRetries is the number of failed attempts after which an entry is parked as failed.
const MaxRetries = 3

// Store is the outbox persistence a Queue needs.
type Store interface {
	InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	DeleteQueueEntry(ctx context.Context, id models.UUID) error
	GetQueueEntry(ctx context.Context, id models.UUID) (*models.SyncQueueEntry, error)
	FindQueuedEntry(ctx context.Context, family models.Family, entityID models.UUID) (*models.SyncQueueEntry, error)
	ListQueueEntries(ctx context.Context, family models.Family, status models.QueueStatus) ([]*models.SyncQueueEntry, error)
	ResetQueueEntries(ctx context.Context, family models.Family, from models.QueueStatus) (int64, error)
	CountQueueEntries(ctx context.Context, family models.Family) (map[models.QueueStatus]int, error)
}

// ProcessFunc applies one entry remotely.
type ProcessFunc func(ctx context.Context, e *models.SyncQueueEntry, m Mutation) error

// EntryError is a failed drain attempt.
type EntryError struct {
	EntryID  models.UUID
	EntityID models.UUID
	Op       models.QueueOperation
	Err      error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// DrainReport summarizes one Drain.
type DrainReport struct {
	Attempted int
	Succeeded int
	// Parked counts entries that reached MaxRetries during this drain.
	Parked int
	Errors []*EntryError
}

// Queue is the outbox of one family.
type Queue struct {
	store  Store
	family models.Family

	// mu serializes entry state transitions.
	mu sync.Mutex
}

// New creates the outbox for family.
func New(store Store, family models.Family) *Queue {
	return &Queue{store: store, family: family}
}

func (q *Queue) Family() models.Family { return q.family }

// Enqueue records m for entityID, coalescing with a queued entry when the
// combination allows it. The returned entry is the one that will drain.
func (q *Queue) Enqueue(ctx context.Context, entityID models.UUID, m Mutation) (*models.SyncQueueEntry, error) {
	if entityID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "entity id is required")
	}
	payload, err := encode(m)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode mutation", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueue(ctx, q.store, entityID, m, payload)
}

// EnqueueFunc records a mutation through store, which is normally bound to
// the caller's transaction.
type EnqueueFunc func(ctx context.Context, store Store, entityID models.UUID, m Mutation) (*models.SyncQueueEntry, error)

// Atomic runs fn holding the queue lock. fn opens its own transaction, makes
// its local change and enqueues through the transaction's Store, so the
// mutation is recorded only if the change commits. The lock is taken before
// the transaction begins; a drain waiting on it never holds the connection.
func (q *Queue) Atomic(ctx context.Context, fn func(ctx context.Context, enqueue EnqueueFunc) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fn(ctx, func(ctx context.Context, store Store, entityID models.UUID, m Mutation) (*models.SyncQueueEntry, error) {
		if entityID == "" {
			return nil, apperrors.New(apperrors.ErrValidation, "entity id is required")
		}
		payload, err := encode(m)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "encode mutation", err)
		}
		return q.enqueue(ctx, store, entityID, m, payload)
	})
}

// enqueue does the coalescing write. Callers hold q.mu.
func (q *Queue) enqueue(ctx context.Context, store Store, entityID models.UUID, m Mutation, payload []byte) (*models.SyncQueueEntry, error) {
	existing, err := store.FindQueuedEntry(ctx, q.family, entityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch {
		case m.Op() == models.OpUpdate && (existing.Operation == models.OpCreate || existing.Operation == models.OpUpdate):
			return existing, nil
		case m.Op() == models.OpDelete && (existing.Operation == models.OpCreate || existing.Operation == models.OpUpdate):
			existing.Operation = models.OpDelete
			existing.Payload = payload
			if err := store.UpdateQueueEntry(ctx, existing); err != nil {
				return nil, err
			}
			logging.Debug("Outbox entry superseded by delete", map[string]interface{}{
				"family": q.family, "entity_id": entityID, "entry_id": existing.ID,
			})
			return existing, nil
		}
	}

	e := &models.SyncQueueEntry{
		Family:    q.family,
		EntityID:  entityID,
		Operation: m.Op(),
		Payload:   payload,
		Status:    models.QueueStatusQueued,
	}
	if err := store.InsertQueueEntry(ctx, e); err != nil {
		return nil, err
	}
	logging.Debug("Outbox entry enqueued", map[string]interface{}{
		"family": q.family, "entity_id": entityID, "operation": e.Operation, "entry_id": e.ID,
	})
	return e, nil
}

// Drain processes every queued entry in enqueue order. A failing entry does
// not stop the drain; only ctx cancellation does, leaving the rest untouched.
func (q *Queue) Drain(ctx context.Context, process ProcessFunc) (*DrainReport, error) {
	report := &DrainReport{}

	// Entries left syncing by an interrupted drain go back in line.
	if n, err := q.store.ResetQueueEntries(ctx, q.family, models.QueueStatusSyncing); err != nil {
		return report, err
	} else if n > 0 {
		logging.Warn("Requeued interrupted outbox entries", map[string]interface{}{"family": q.family, "count": n})
	}

	entries, err := q.store.ListQueueEntries(ctx, q.family, models.QueueStatusQueued)
	if err != nil {
		return report, err
	}

	for _, snapshot := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		e, err := q.claim(ctx, snapshot.ID)
		if err != nil {
			return report, err
		}
		if e == nil {
			continue
		}
		report.Attempted++

		m, perr := Decode(e)
		if perr == nil {
			perr = process(ctx, e, m)
		}
		if perr == nil {
			if err := q.store.DeleteQueueEntry(ctx, e.ID); err != nil {
				return report, err
			}
			report.Succeeded++
			continue
		}

		parked, err := q.fail(ctx, e, perr)
		if err != nil {
			return report, err
		}
		if parked {
			report.Parked++
		}
		report.Errors = append(report.Errors, &EntryError{
			EntryID: e.ID, EntityID: e.EntityID, Op: e.Operation, Err: perr,
		})
	}
	return report, nil
}

// claim marks the entry syncing if it is still queued. It returns nil when
// the entry was removed or changed state since the drain listed it.
func (q *Queue) claim(ctx context.Context, id models.UUID) (*models.SyncQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.store.GetQueueEntry(ctx, id)
	if apperrors.Is(err, apperrors.ErrQueueNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.Status != models.QueueStatusQueued {
		return nil, nil
	}
	e.Status = models.QueueStatusSyncing
	if err := q.store.UpdateQueueEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (q *Queue) fail(ctx context.Context, e *models.SyncQueueEntry, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.RetryCount++
	e.LastError = cause.Error()
	e.Status = models.QueueStatusQueued
	if e.RetryCount >= MaxRetries {
		e.Status = models.QueueStatusFailed
	}
	if err := q.store.UpdateQueueEntry(ctx, e); err != nil {
		return false, err
	}

	ctxMap := map[string]interface{}{
		"family":      q.family,
		"entity_id":   e.EntityID,
		"operation":   e.Operation,
		"retry_count": e.RetryCount,
		"max_retries": MaxRetries,
	}
	if e.Status == models.QueueStatusFailed {
		logging.ErrorWithCode("Outbox entry failed permanently", string(apperrors.ErrSyncPushFailed), cause, ctxMap)
		return true, nil
	}
	logging.Warn("Outbox entry failed, will retry: "+cause.Error(), ctxMap)
	return false, nil
}

// Retry puts a failed entry back in line with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id models.UUID) (*models.SyncQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.store.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Family != q.family {
		return nil, apperrors.New(apperrors.ErrQueueNotFound, "queue entry not found: "+id.String())
	}
	if e.Status != models.QueueStatusFailed {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("queue entry %s is %s, not failed", id, e.Status))
	}
	e.Status = models.QueueStatusQueued
	e.RetryCount = 0
	e.LastError = ""
	if err := q.store.UpdateQueueEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RetryAll resets every failed entry and returns how many were reset.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.store.ResetQueueEntries(ctx, q.family, models.QueueStatusFailed)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Reset failed outbox entries for retry", map[string]interface{}{"family": q.family, "count": n})
	}
	return int(n), nil
}

// List returns the entries in drain order. An empty status lists all.
func (q *Queue) List(ctx context.Context, status models.QueueStatus) ([]*models.SyncQueueEntry, error) {
	return q.store.ListQueueEntries(ctx, q.family, status)
}

// Stats returns entry counts keyed by status plus "total".
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := q.store.CountQueueEntries(ctx, q.family)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{"total": 0}
	for status, n := range counts {
		stats[string(status)] = n
		stats["total"] += n
	}
	return stats, nil
}

// Deletes is the set of entities with a delete still in the outbox.
type Deletes struct {
	Entities map[models.UUID]bool
	Remotes  map[string]bool
}

// Has reports whether either identifier has a pending delete.
func (d Deletes) Has(entityID models.UUID, remoteID string) bool {
	return (entityID != "" && d.Entities[entityID]) || (remoteID != "" && d.Remotes[remoteID])
}

// PendingDeletes collects deletes in any status.
func (q *Queue) PendingDeletes(ctx context.Context) (Deletes, error) {
	d := Deletes{Entities: map[models.UUID]bool{}, Remotes: map[string]bool{}}
	entries, err := q.store.ListQueueEntries(ctx, q.family, "")
	if err != nil {
		return d, err
	}
	for _, e := range entries {
		if e.Operation != models.OpDelete {
			continue
		}
		d.Entities[e.EntityID] = true
		m, err := Decode(e)
		if err != nil {
			continue
		}
		if del := m.(Delete); del.RemoteID != "" {
			d.Remotes[del.RemoteID] = true
		}
	}
	return d, nil
}
