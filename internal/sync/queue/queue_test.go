package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kimhsiao/stashsync/internal/db"
	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
)

var _ Store = (*db.Repository)(nil)

func newTestQueue(t *testing.T) (*Queue, *db.Repository) {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	repo := db.NewRepository(conn.DB)
	t.Cleanup(func() {
		repo.Close()
		conn.Close()
	})
	return New(repo, models.FamilyItems), repo
}

func mustEnqueue(t *testing.T, q *Queue, id models.UUID, m Mutation) *models.SyncQueueEntry {
	t.Helper()
	e, err := q.Enqueue(context.Background(), id, m)
	if err != nil {
		t.Fatalf("Enqueue(%s, %s) failed: %v", id, m.Op(), err)
	}
	return e
}

func queued(t *testing.T, q *Queue) []*models.SyncQueueEntry {
	t.Helper()
	entries, err := q.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return entries
}

// TestEnqueue tests a fresh enqueue.
func TestEnqueue(t *testing.T) {
	q, _ := newTestQueue(t)

	e := mustEnqueue(t, q, "item-1", Create{})

	if e.ID == "" {
		t.Error("Expected entry ID to be set")
	}
	if e.Operation != models.OpCreate {
		t.Errorf("Expected create operation, got %s", e.Operation)
	}
	if e.Status != models.QueueStatusQueued {
		t.Errorf("Expected queued status, got %s", e.Status)
	}
	if e.RetryCount != 0 {
		t.Errorf("Expected RetryCount 0, got %d", e.RetryCount)
	}
}

// TestEnqueue_requiresEntity tests the entity ID guard.
func TestEnqueue_requiresEntity(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), "", Update{})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// TestEnqueue_coalesce tests how a second mutation folds into a queued entry.
func TestEnqueue_coalesce(t *testing.T) {
	tests := []struct {
		name    string
		first   Mutation
		second  Mutation
		entries int
		wantOp  models.QueueOperation
	}{
		{"create then update", Create{}, Update{}, 1, models.OpCreate},
		{"update then update", Update{}, Update{}, 1, models.OpUpdate},
		{"create then delete", Create{}, Delete{Title: "gone"}, 1, models.OpDelete},
		{"update then delete", Update{}, Delete{RemoteID: "r-1"}, 1, models.OpDelete},
		{"create then create", Create{}, Create{}, 2, models.OpCreate},
		{"delete then update", Delete{RemoteID: "r-1"}, Update{}, 2, models.OpDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newTestQueue(t)

			first := mustEnqueue(t, q, "item-1", tt.first)
			mustEnqueue(t, q, "item-1", tt.second)

			entries := queued(t, q)
			if len(entries) != tt.entries {
				t.Fatalf("Expected %d entries, got %d", tt.entries, len(entries))
			}
			if entries[0].Operation != tt.wantOp {
				t.Errorf("Expected head operation %s, got %s", tt.wantOp, entries[0].Operation)
			}
			if entries[0].EnqueuedAt != first.EnqueuedAt {
				t.Errorf("Expected head to keep enqueue time %d, got %d", first.EnqueuedAt, entries[0].EnqueuedAt)
			}
		})
	}
}

// TestEnqueue_deleteCarriesSnapshot tests the delete payload survives coalescing.
func TestEnqueue_deleteCarriesSnapshot(t *testing.T) {
	q, _ := newTestQueue(t)

	mustEnqueue(t, q, "item-1", Update{})
	mustEnqueue(t, q, "item-1", Delete{RemoteID: "remote-9", Title: "Old"})

	m, err := Decode(queued(t, q)[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	d, ok := m.(Delete)
	if !ok {
		t.Fatalf("Expected Delete, got %T", m)
	}
	if d.RemoteID != "remote-9" || d.Title != "Old" {
		t.Errorf("Unexpected snapshot %+v", d)
	}
}

// TestAtomic tests that an enqueue inside a rolled back transaction leaves nothing behind.
func TestAtomic(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	mustEnqueue(t, q, "item-1", Create{})
	abort := errors.New("abort")

	err := q.Atomic(ctx, func(ctx context.Context, enqueue EnqueueFunc) error {
		return repo.InTx(ctx, func(tx *db.Repository) error {
			if _, err := enqueue(ctx, tx, "item-1", Delete{RemoteID: "rec-1"}); err != nil {
				return err
			}
			if _, err := enqueue(ctx, tx, "item-2", Create{}); err != nil {
				return err
			}
			return abort
		})
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Atomic() error = %v, want abort", err)
	}

	entries := queued(t, q)
	if len(entries) != 1 || entries[0].Operation != models.OpCreate {
		t.Fatalf("Expected the original create only, got %+v", entries)
	}

	err = q.Atomic(ctx, func(ctx context.Context, enqueue EnqueueFunc) error {
		return repo.InTx(ctx, func(tx *db.Repository) error {
			_, err := enqueue(ctx, tx, "item-1", Delete{RemoteID: "rec-1"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("Atomic() failed: %v", err)
	}
	entries = queued(t, q)
	if len(entries) != 1 || entries[0].Operation != models.OpDelete {
		t.Errorf("Expected the create superseded by a delete, got %+v", entries)
	}

	err = q.Atomic(ctx, func(ctx context.Context, enqueue EnqueueFunc) error {
		_, err := enqueue(ctx, repo, "", Update{})
		return err
	})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION for an empty entity id, got %v", err)
	}
}

// TestEnqueue_failedEntryNotCoalesced tests that a parked entry is left alone.
func TestEnqueue_failedEntryNotCoalesced(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	mustEnqueue(t, q, "item-1", Create{})

	for i := 0; i < MaxRetries; i++ {
		if _, err := q.Drain(ctx, func(context.Context, *models.SyncQueueEntry, Mutation) error {
			return errors.New("down")
		}); err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
	}
	mustEnqueue(t, q, "item-1", Update{})

	if n := len(queued(t, q)); n != 2 {
		t.Errorf("Expected 2 entries, got %d", n)
	}
}

// TestDrain_order tests entries drain in enqueue order and are removed on success.
func TestDrain_order(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "a", Create{})
	time.Sleep(2 * time.Millisecond)
	mustEnqueue(t, q, "b", Update{})
	time.Sleep(2 * time.Millisecond)
	mustEnqueue(t, q, "c", Delete{RemoteID: "rc"})
	time.Sleep(2 * time.Millisecond)
	mustEnqueue(t, q, "a", Update{})

	var seen []string
	report, err := q.Drain(ctx, func(ctx context.Context, e *models.SyncQueueEntry, m Mutation) error {
		if e.Status != models.QueueStatusSyncing {
			t.Errorf("Expected syncing status during processing, got %s", e.Status)
		}
		seen = append(seen, string(e.EntityID)+":"+string(m.Op()))
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	want := []string{"a:create", "b:update", "c:delete"}
	if len(seen) != len(want) {
		t.Fatalf("Expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if report.Attempted != 3 || report.Succeeded != 3 || len(report.Errors) != 0 {
		t.Errorf("Unexpected report %+v", report)
	}
	if n := len(queued(t, q)); n != 0 {
		t.Errorf("Expected empty queue, got %d entries", n)
	}
}

// TestDrain_retryThreshold tests three failures park the entry and a manual retry revives it.
func TestDrain_retryThreshold(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	e := mustEnqueue(t, q, "item-1", Update{})
	fail := func(context.Context, *models.SyncQueueEntry, Mutation) error { return errors.New("boom") }

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		report, err := q.Drain(ctx, fail)
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(report.Errors) != 1 {
			t.Fatalf("Attempt %d: expected 1 error, got %d", attempt, len(report.Errors))
		}

		got := queued(t, q)[0]
		if got.RetryCount != attempt {
			t.Errorf("Attempt %d: expected RetryCount %d, got %d", attempt, attempt, got.RetryCount)
		}
		wantStatus := models.QueueStatusQueued
		if attempt == MaxRetries {
			wantStatus = models.QueueStatusFailed
			if report.Parked != 1 {
				t.Errorf("Expected 1 parked entry, got %d", report.Parked)
			}
		}
		if got.Status != wantStatus {
			t.Errorf("Attempt %d: expected %s, got %s", attempt, wantStatus, got.Status)
		}
		if got.LastError != "boom" {
			t.Errorf("Expected LastError boom, got %q", got.LastError)
		}
	}

	// Parked entries are not drained.
	report, err := q.Drain(ctx, fail)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Attempted != 0 {
		t.Errorf("Expected failed entry to be skipped, attempted %d", report.Attempted)
	}

	retried, err := q.Retry(ctx, e.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != models.QueueStatusQueued || retried.RetryCount != 0 || retried.LastError != "" {
		t.Errorf("Unexpected entry after retry %+v", retried)
	}
}

// TestDrain_continuesAfterFailure tests one bad entry does not block the rest.
func TestDrain_continuesAfterFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	mustEnqueue(t, q, "bad", Create{})
	mustEnqueue(t, q, "good", Create{})

	report, err := q.Drain(context.Background(), func(_ context.Context, e *models.SyncQueueEntry, _ Mutation) error {
		if e.EntityID == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Succeeded != 1 || len(report.Errors) != 1 {
		t.Fatalf("Unexpected report %+v", report)
	}
	if report.Errors[0].EntityID != "bad" {
		t.Errorf("Expected error for bad, got %s", report.Errors[0].EntityID)
	}
}

// TestDrain_cancelled tests cancellation leaves remaining entries untouched.
func TestDrain_cancelled(t *testing.T) {
	q, _ := newTestQueue(t)
	mustEnqueue(t, q, "a", Create{})
	mustEnqueue(t, q, "b", Create{})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := q.Drain(ctx, func(context.Context, *models.SyncQueueEntry, Mutation) error {
		calls++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	entries := queued(t, q)
	if len(entries) != 1 || entries[0].RetryCount != 0 || entries[0].Status != models.QueueStatusQueued {
		t.Errorf("Expected one untouched entry, got %+v", entries)
	}
}

// TestDrain_recoversSyncing tests an entry stranded in syncing is drained again.
func TestDrain_recoversSyncing(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	e := mustEnqueue(t, q, "a", Create{})
	e.Status = models.QueueStatusSyncing
	if err := repo.UpdateQueueEntry(ctx, e); err != nil {
		t.Fatalf("UpdateQueueEntry failed: %v", err)
	}

	report, err := q.Drain(ctx, func(context.Context, *models.SyncQueueEntry, Mutation) error { return nil })
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Errorf("Expected stranded entry to drain, report %+v", report)
	}
}

// TestDrain_undecodable tests a corrupt entry counts as a failure.
func TestDrain_undecodable(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	e := &models.SyncQueueEntry{Family: models.FamilyItems, EntityID: "x", Operation: "rename"}
	if err := repo.InsertQueueEntry(ctx, e); err != nil {
		t.Fatalf("InsertQueueEntry failed: %v", err)
	}

	called := false
	report, err := q.Drain(ctx, func(context.Context, *models.SyncQueueEntry, Mutation) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if called {
		t.Error("Processor should not see an undecodable entry")
	}
	if len(report.Errors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(report.Errors))
	}
}

// TestRetry_rejectsQueued tests only failed entries can be retried.
func TestRetry_rejectsQueued(t *testing.T) {
	q, _ := newTestQueue(t)
	e := mustEnqueue(t, q, "a", Create{})

	_, err := q.Retry(context.Background(), e.ID)
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected invalid input error, got %v", err)
	}

	_, err = New(q.store, models.FamilyPrompts).Retry(context.Background(), e.ID)
	if !apperrors.Is(err, apperrors.ErrQueueNotFound) {
		t.Errorf("Expected not found for other family, got %v", err)
	}
}

// TestRetryAllAndStats tests bulk retry and statistics.
func TestRetryAllAndStats(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	mustEnqueue(t, q, "a", Create{})
	mustEnqueue(t, q, "b", Create{})

	for i := 0; i < MaxRetries; i++ {
		if _, err := q.Drain(ctx, func(context.Context, *models.SyncQueueEntry, Mutation) error {
			return errors.New("no")
		}); err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
	}
	mustEnqueue(t, q, "c", Update{})

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["total"] != 3 || stats["failed"] != 2 || stats["queued"] != 1 || stats["syncing"] != 0 {
		t.Errorf("Unexpected stats %v", stats)
	}

	n, err := q.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 reset entries, got %d", n)
	}
	for _, e := range queued(t, q) {
		if e.Status != models.QueueStatusQueued || e.RetryCount != 0 {
			t.Errorf("Entry %s not reset: %+v", e.EntityID, e)
		}
	}
}

// TestPendingDeletes tests delete lookups by entity and remote ID.
func TestPendingDeletes(t *testing.T) {
	q, _ := newTestQueue(t)
	mustEnqueue(t, q, "a", Delete{RemoteID: "ra"})
	mustEnqueue(t, q, "b", Delete{})
	mustEnqueue(t, q, "c", Update{})

	d, err := q.PendingDeletes(context.Background())
	if err != nil {
		t.Fatalf("PendingDeletes failed: %v", err)
	}
	if !d.Has("a", "") || !d.Has("", "ra") || !d.Has("b", "") {
		t.Errorf("Expected deletes for a, ra and b: %+v", d)
	}
	if d.Has("c", "") || d.Has("", "") {
		t.Errorf("Unexpected delete match: %+v", d)
	}
}
