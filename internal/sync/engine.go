package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kimhsiao/stashsync/internal/crypto"
	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/conflict"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/telemetry"
)

// PullOverlap widens delta pulls below the checkpoint. The remote rounds edit
// times down, and reprocessing an unchanged record is a no-op.
const PullOverlap = 2 * time.Minute

// State is the phase an engine is in.
type State string

const (
	StateIdle    State = "idle"
	StatePulling State = "pulling"
	StatePushing State = "pushing"
)

// Options tunes one cycle.
type Options struct {
	// Force ignores the checkpoint and pulls every record. The checkpoint
	// itself is left for the cycle to advance as usual.
	Force bool
}

// Entity is a locally stored record that syncs.
type Entity interface {
	EntityID() models.UUID
	RemoteRecordID() string
	ModifiedAt() int64
	SyncState() models.SyncStatus
}

// Adapter binds an entity family to the engine.
type Adapter[E Entity] interface {
	Family() models.Family
	// Begin loads per-pass state such as label collections.
	Begin(ctx context.Context) (Pass[E], error)
	Find(ctx context.Context, id models.UUID) (E, bool, error)
	FindByRemoteID(ctx context.Context, remoteID string) (E, bool, error)
	// Create stores a record first seen remotely.
	Create(ctx context.Context, incoming E) error
	// Overwrite replaces the syncable fields of local with incoming's and marks it synced.
	Overwrite(ctx context.Context, local, incoming E) error
	// Same reports whether a and b agree on every syncable field.
	Same(a, b E) bool
	MarkPushed(ctx context.Context, id models.UUID, remoteID string, seenUpdatedAt int64) error
	SetSyncStatus(ctx context.Context, id models.UUID, status models.SyncStatus) error
	// LocalIDColumn is the remote column holding the embedded local ID.
	LocalIDColumn() string
}

// Pass converts between remote records and entities for one pass.
type Pass[E Entity] interface {
	// Decode builds a detached entity from rec, resolving label names. Its
	// ID is the embedded local ID, or empty.
	Decode(ctx context.Context, rec *remote.Record) (E, error)
	Encode(e E) remote.Properties
}

// SettingsStore reads credentials and keeps the checkpoint.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SetLastSyncAt(ctx context.Context, family models.Family, ms int64) error
}

// ConflictStore records concurrent edits.
type ConflictStore interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// Config carries the collaborators shared by the family engines.
type Config struct {
	Client    *remote.Client
	Settings  SettingsStore
	Conflicts ConflictStore
	TokenBox  *crypto.TokenBox
	// Token, when set, takes precedence over the stored token.
	Token   string
	Tracer  trace.Tracer
	Metrics *telemetry.SyncMetrics
}

// Engine syncs one entity family. At most one cycle runs at a time.
type Engine[E Entity] struct {
	adapter  Adapter[E]
	queue    *queue.Queue
	cfg      Config
	resolver *conflict.Resolver

	mu      stdsync.Mutex
	state   State
	last    *Result
	handler EventHandler
}

var _ Syncer = (*Engine[*models.Item])(nil)

// NewEngine creates an engine for adapter's family draining q.
func NewEngine[E Entity](adapter Adapter[E], q *queue.Queue, cfg Config) *Engine[E] {
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer(nil)
	}
	if cfg.Metrics == nil {
		if m, err := telemetry.NewSyncMetrics(nil); err == nil {
			cfg.Metrics = m
		}
	}
	if cfg.Client == nil {
		cfg.Client = remote.New(remote.Options{}, nil)
	}
	return &Engine[E]{
		adapter:  adapter,
		queue:    q,
		cfg:      cfg,
		resolver: conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins),
		state:    StateIdle,
	}
}

func (e *Engine[E]) Family() models.Family { return e.adapter.Family() }

// Queue returns the outbox this engine drains.
func (e *Engine[E]) Queue() *queue.Queue { return e.queue }

func (e *Engine[E]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine[E]) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine[E]) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine[E]) emit(ev Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// transition moves from one state to another, failing if the engine is not in from.
func (e *Engine[E]) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

// Sync runs one cycle. Errors met along the way are collected in the result;
// the returned error is reserved for a rejected call.
func (e *Engine[E]) Sync(ctx context.Context, opts Options) (*Result, error) {
	family := e.Family()
	if !e.transition(StateIdle, StatePulling) {
		logging.Info("Sync rejected, cycle already running", map[string]interface{}{"family": family})
		e.emit(Event{Type: EventRejected, Family: family})
		return nil, apperrors.New(apperrors.ErrSyncInProgress, fmt.Sprintf("%s sync already in progress", family))
	}

	res := newResult(family)
	defer func() {
		res.finish()
		e.mu.Lock()
		e.state = StateIdle
		e.last = res
		e.mu.Unlock()

		e.record(ctx, res)
		evType := EventCompleted
		if !res.Success {
			evType = EventFailed
		}
		e.emit(Event{Type: evType, Family: family, Result: res})
	}()

	e.emit(Event{Type: EventStarted, Family: family})
	logging.Info("Sync started", map[string]interface{}{"family": family, "force": opts.Force})

	client, databaseID, checkpoint, err := e.prepare(ctx)
	if err != nil {
		res.addError(PhaseSetup, apperrors.CodeOf(err), "", err)
		return res, nil
	}

	pullStarted := models.NowMillis()
	since := checkpoint
	if opts.Force {
		since = 0
	}
	pullErr := e.pull(ctx, client, databaseID, since, res)
	if pullErr != nil {
		res.addError(PhasePull, codeFor(pullErr, apperrors.ErrSyncPullFailed), "", pullErr)
	}

	e.transition(StatePulling, StatePushing)
	if err := e.push(ctx, client, databaseID, res); err != nil {
		res.addError(PhasePush, codeFor(err, apperrors.ErrSyncPushFailed), "", err)
	}

	// A pull that stopped early leaves unseen records behind the checkpoint.
	if pullErr == nil {
		if err := e.cfg.Settings.SetLastSyncAt(ctx, family, pullStarted); err != nil {
			res.addError(PhasePull, apperrors.CodeOf(err), "", err)
		}
	}

	logging.Info("Sync finished", map[string]interface{}{
		"family":    family,
		"created":   res.Created,
		"updated":   res.Updated,
		"deleted":   res.Deleted,
		"skipped":   res.Skipped,
		"conflicts": res.Conflicts,
		"errors":    len(res.Errors),
	})
	return res, nil
}

// prepare resolves the credentials for this cycle.
func (e *Engine[E]) prepare(ctx context.Context) (*remote.Client, string, int64, error) {
	settings, err := e.cfg.Settings.GetSettings(ctx)
	if err != nil {
		return nil, "", 0, err
	}

	token := e.cfg.Token
	if token == "" && settings.HasToken() {
		if e.cfg.TokenBox == nil {
			return nil, "", 0, apperrors.New(apperrors.ErrSyncAuthFailed, "no key to open the stored token")
		}
		token, err = e.cfg.TokenBox.Open(settings.APITokenEncrypted)
		if err != nil {
			return nil, "", 0, apperrors.Wrap(apperrors.ErrSyncAuthFailed, "stored token could not be decrypted", err)
		}
	}
	databaseID := settings.DatabaseID(e.Family())

	switch {
	case token == "":
		return nil, "", 0, apperrors.New(apperrors.ErrSyncNotConfigured, "api token is not set")
	case databaseID == "":
		return nil, "", 0, apperrors.New(apperrors.ErrSyncNotConfigured, fmt.Sprintf("%s database id is not set", e.Family()))
	}
	return e.cfg.Client.WithToken(token), databaseID, settings.LastSyncAt(e.Family()), nil
}

// pull applies remote changes since the checkpoint. The first error stops it;
// changes already applied stay.
func (e *Engine[E]) pull(ctx context.Context, client *remote.Client, databaseID string, since int64, res *Result) (err error) {
	ctx, span := telemetry.StartSpan(ctx, e.cfg.Tracer, "sync.pull", string(e.Family()))
	defer func() { telemetry.EndSpan(span, err) }()

	pass, err := e.adapter.Begin(ctx)
	if err != nil {
		return err
	}
	deletes, err := e.queue.PendingDeletes(ctx)
	if err != nil {
		return err
	}

	var records []remote.Record
	if since > 0 {
		records, err = client.FetchModifiedSince(ctx, databaseID, models.MillisTime(since).Add(-PullOverlap))
	} else {
		records, err = client.FetchAll(ctx, databaseID)
	}
	if err != nil {
		return err
	}
	logging.Debug("Pulled records", map[string]interface{}{"family": e.Family(), "count": len(records), "since": since})

	for i := range records {
		rec := &records[i]
		if rec.Removed() || deletes.Has("", rec.ID) {
			res.Skipped++
			continue
		}
		incoming, err := pass.Decode(ctx, rec)
		if err != nil {
			return fmt.Errorf("decode record %s: %w", rec.ID, err)
		}
		if deletes.Has(incoming.EntityID(), "") {
			res.Skipped++
			continue
		}
		if err := e.apply(ctx, incoming, res); err != nil {
			return fmt.Errorf("apply record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// apply reconciles one decoded record with the local store.
func (e *Engine[E]) apply(ctx context.Context, incoming E, res *Result) error {
	local, found, err := e.adapter.FindByRemoteID(ctx, incoming.RemoteRecordID())
	if err != nil {
		return err
	}
	if !found && incoming.EntityID() != "" {
		if local, found, err = e.adapter.Find(ctx, incoming.EntityID()); err != nil {
			return err
		}
	}

	if !found {
		if err := e.adapter.Create(ctx, incoming); err != nil {
			return err
		}
		res.Created++
		return nil
	}

	if linked := local.RemoteRecordID(); linked != "" && linked != incoming.RemoteRecordID() {
		logging.Warn("Remote record claims an entity linked elsewhere, skipping", map[string]interface{}{
			"family":    e.Family(),
			"entity_id": local.EntityID(),
			"linked_to": linked,
			"record_id": incoming.RemoteRecordID(),
		})
		res.Skipped++
		return nil
	}

	decision, err := e.resolver.Resolve(&conflict.Conflict{
		Family:          e.Family(),
		EntityID:        local.EntityID(),
		LocalTimestamp:  local.ModifiedAt(),
		RemoteTimestamp: incoming.ModifiedAt(),
		LocalPending:    local.SyncState() == models.SyncStatusPending && !e.adapter.Same(local, incoming),
	})
	if err != nil {
		return err
	}
	if decision.ConflictLog != nil {
		if err := e.cfg.Conflicts.CreateConflictLog(ctx, decision.ConflictLog); err != nil {
			return err
		}
		res.Conflicts++
	}

	if !decision.RemoteWins {
		res.Skipped++
		return nil
	}
	if local.SyncState() == models.SyncStatusSynced && local.RemoteRecordID() != "" && e.adapter.Same(local, incoming) {
		res.Skipped++
		return nil
	}
	if err := e.adapter.Overwrite(ctx, local, incoming); err != nil {
		return err
	}
	res.Updated++
	return nil
}

// push drains the outbox. Per-entry failures are collected; the returned
// error means the drain itself could not continue.
func (e *Engine[E]) push(ctx context.Context, client *remote.Client, databaseID string, res *Result) (err error) {
	ctx, span := telemetry.StartSpan(ctx, e.cfg.Tracer, "sync.push", string(e.Family()))
	defer func() { telemetry.EndSpan(span, err) }()

	pass, err := e.adapter.Begin(ctx)
	if err != nil {
		return err
	}

	p := &pusher[E]{engine: e, client: client, databaseID: databaseID, pass: pass, res: res}
	report, err := e.queue.Drain(ctx, p.process)
	for _, ee := range report.Errors {
		res.addError(PhasePush, codeFor(ee.Err, apperrors.ErrSyncPushFailed), ee.EntityID, ee.Err)
	}
	return err
}

type pusher[E Entity] struct {
	engine     *Engine[E]
	client     *remote.Client
	databaseID string
	pass       Pass[E]
	res        *Result
}

func (p *pusher[E]) process(ctx context.Context, entry *models.SyncQueueEntry, m queue.Mutation) error {
	var err error
	switch m := m.(type) {
	case queue.Create:
		err = p.upsert(ctx, entry.EntityID, true)
	case queue.Update:
		err = p.upsert(ctx, entry.EntityID, false)
	case queue.Delete:
		err = p.archive(ctx, entry.EntityID, m)
	default:
		err = fmt.Errorf("unhandled mutation %T", m)
	}

	if err != nil && m.Op() != models.OpDelete {
		if serr := p.engine.adapter.SetSyncStatus(ctx, entry.EntityID, models.SyncStatusError); serr != nil && !isNotFound(serr) {
			logging.Error("Failed to flag entity sync error", serr, map[string]interface{}{
				"family": p.engine.Family(), "entity_id": entry.EntityID,
			})
		}
	}
	return err
}

// upsert pushes the entity. An update for an entity that never reached the
// remote is promoted to a create; a create first looks for a record already
// carrying the entity's ID.
func (p *pusher[E]) upsert(ctx context.Context, id models.UUID, create bool) error {
	ent, found, err := p.engine.adapter.Find(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		// Deleted locally; its delete entry handles the remote side.
		return nil
	}

	props := p.pass.Encode(ent)
	remoteID := ent.RemoteRecordID()

	if remoteID == "" {
		existing, err := p.client.FindByText(ctx, p.databaseID, p.engine.adapter.LocalIDColumn(), string(id))
		if err != nil {
			return err
		}
		if existing != nil {
			remoteID = existing.ID
			if _, err := p.client.UpdateRecord(ctx, remoteID, props); err != nil {
				return err
			}
			p.res.Updated++
		} else {
			rec, err := p.client.CreateRecord(ctx, p.databaseID, props)
			if err != nil {
				return err
			}
			remoteID = rec.ID
			p.res.Created++
		}
	} else {
		if _, err := p.client.UpdateRecord(ctx, remoteID, props); err != nil {
			return err
		}
		p.res.Updated++
	}

	logging.Debug("Pushed entity", map[string]interface{}{
		"family": p.engine.Family(), "entity_id": id, "record_id": remoteID, "queued_as_create": create,
	})
	return p.engine.adapter.MarkPushed(ctx, id, remoteID, ent.ModifiedAt())
}

// archive removes the remote record of a deleted entity. Without a stored
// link the record is looked up by the entity's ID, since a create can reach
// the remote without its response ever arriving.
func (p *pusher[E]) archive(ctx context.Context, id models.UUID, d queue.Delete) error {
	remoteID := d.RemoteID
	if remoteID == "" {
		existing, err := p.client.FindByText(ctx, p.databaseID, p.engine.adapter.LocalIDColumn(), string(id))
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		remoteID = existing.ID
	}
	if err := p.client.ArchiveRecord(ctx, remoteID); err != nil {
		return err
	}
	logging.Debug("Archived remote record", map[string]interface{}{
		"family": p.engine.Family(), "entity_id": id, "record_id": remoteID,
	})
	p.res.Deleted++
	return nil
}

func (e *Engine[E]) record(ctx context.Context, res *Result) {
	m := e.cfg.Metrics
	if m == nil {
		return
	}
	family := string(res.Family)
	m.RecordCycle(ctx, family, res.Success)
	m.RecordRecords(ctx, family, "created", res.Created)
	m.RecordRecords(ctx, family, "updated", res.Updated)
	m.RecordRecords(ctx, family, "deleted", res.Deleted)
	m.RecordRecords(ctx, family, "skipped", res.Skipped)
	m.RecordErrors(ctx, family, string(PhasePull), res.errorsIn(PhasePull))
	m.RecordErrors(ctx, family, string(PhasePush), res.errorsIn(PhasePush))
}

// codeFor maps err to an error code, using fallback for anything that is
// neither an AppError nor a classified remote failure.
func codeFor(err error, fallback apperrors.ErrorCode) apperrors.ErrorCode {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if re, ok := remote.AsRemoteError(err); ok {
		switch {
		case re.Code == remote.CodeNotConfigured:
			return apperrors.ErrSyncNotConfigured
		case re.Status == http.StatusUnauthorized || re.Status == http.StatusForbidden:
			return apperrors.ErrSyncAuthFailed
		case re.Status == http.StatusTooManyRequests:
			return apperrors.ErrSyncRateLimited
		default:
			return apperrors.ErrSyncRemote
		}
	}
	return fallback
}

func isNotFound(err error) bool {
	code := apperrors.CodeOf(err)
	return code == apperrors.ErrItemNotFound || code == apperrors.ErrPromptNotFound || code == apperrors.ErrNotFound
}
