package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/stashsync/internal/crypto"
	"github.com/kimhsiao/stashsync/internal/db"
	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
	"github.com/kimhsiao/stashsync/internal/sync/ratelimit"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/sync/resolver"
	"github.com/kimhsiao/stashsync/internal/sync/transform"
	"github.com/kimhsiao/stashsync/internal/uuid"
)

var (
	_ ItemStore     = (*db.Repository)(nil)
	_ PromptStore   = (*db.Repository)(nil)
	_ SettingsStore = (*db.Repository)(nil)
	_ ConflictStore = (*db.Repository)(nil)
)

const (
	itemsDB   = "db-items"
	promptsDB = "db-prompts"
)

// fakeRemote is an in-memory stand-in for the remote database API.
type fakeRemote struct {
	mu      stdsync.Mutex
	records []*remote.Record
	seq     int
	queries []remote.QueryRequest
	auth    []string

	hits, creates, updates, archives int

	failPull     bool
	createStatus int
	hold         chan struct{}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/query"):
		var req remote.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"code": "validation_error", "message": err.Error()})
			return
		}
		f.queries = append(f.queries, req)
		if f.failPull && (req.Filter == nil || req.Filter.RichText == nil) {
			reply(w, http.StatusBadGateway, map[string]string{"code": "bad_gateway", "message": "upstream down"})
			return
		}
		results := []remote.Record{}
		for _, rec := range f.records {
			if matches(rec, req.Filter) {
				results = append(results, *rec)
			}
		}
		reply(w, http.StatusOK, remote.QueryResponse{Results: results})

	case r.Method == http.MethodPost && r.URL.Path == "/pages":
		if f.createStatus != 0 {
			reply(w, f.createStatus, map[string]string{"code": "validation_error", "message": "rejected"})
			return
		}
		var body struct {
			Properties remote.Properties `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"code": "validation_error", "message": err.Error()})
			return
		}
		f.seq++
		f.creates++
		now := time.Now().UTC()
		rec := &remote.Record{
			ID:             fmt.Sprintf("rec-%d", f.seq),
			CreatedTime:    now,
			LastEditedTime: now,
			Properties:     body.Properties,
		}
		f.records = append(f.records, rec)
		reply(w, http.StatusOK, rec)

	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/pages/"):
		var body struct {
			Properties remote.Properties `json:"properties"`
			Archived   *bool             `json:"archived"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"code": "validation_error", "message": err.Error()})
			return
		}
		rec := f.find(strings.TrimPrefix(r.URL.Path, "/pages/"))
		if rec == nil {
			reply(w, http.StatusNotFound, map[string]string{"code": "object_not_found", "message": "no such page"})
			return
		}
		if body.Archived != nil {
			rec.Archived = *body.Archived
			f.archives++
		}
		if len(body.Properties) > 0 {
			if rec.Properties == nil {
				rec.Properties = remote.Properties{}
			}
			for k, v := range body.Properties {
				rec.Properties[k] = v
			}
			rec.LastEditedTime = time.Now().UTC()
			f.updates++
		}
		reply(w, http.StatusOK, rec)

	default:
		reply(w, http.StatusNotFound, map[string]string{"code": "object_not_found", "message": r.URL.Path})
	}
}

func (f *fakeRemote) find(id string) *remote.Record {
	for _, rec := range f.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (f *fakeRemote) add(rec *remote.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeRemote) record(id string) remote.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.find(id); rec != nil {
		return *rec
	}
	return remote.Record{}
}

type fakeStats struct {
	hits, creates, archives int
	auth                    []string
}

func (f *fakeRemote) stats() fakeStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStats{hits: f.hits, creates: f.creates, archives: f.archives, auth: append([]string(nil), f.auth...)}
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// pullFilters returns the filters of every query that was not an ID lookup.
func (f *fakeRemote) pullFilters() []*remote.Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*remote.Filter
	for _, q := range f.queries {
		if q.Filter == nil || q.Filter.RichText == nil {
			out = append(out, q.Filter)
		}
	}
	return out
}

func matches(rec *remote.Record, filter *remote.Filter) bool {
	switch {
	case filter == nil:
		return true
	case filter.LastEditedTime != nil:
		since, err := time.Parse(time.RFC3339, filter.LastEditedTime.OnOrAfter)
		return err == nil && !rec.LastEditedTime.Before(since)
	case filter.RichText != nil:
		var sb strings.Builder
		for _, rt := range rec.Properties[filter.Property].RichText {
			sb.WriteString(rt.Plain())
		}
		return sb.String() == filter.RichText.Equals
	}
	return false
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type harness struct {
	repo    *db.Repository
	fake    *fakeRemote
	items   *Engine[*models.Item]
	prompts *Engine[*models.Prompt]
	schema  *transform.Schema
}

type harnessOption func(*Config)

func withoutToken(cfg *Config) { cfg.Token = "" }

func newHarness(t *testing.T, fake *fakeRemote, opts ...harnessOption) *harness {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(conn.DB)
	t.Cleanup(func() {
		repo.Close()
		conn.Close()
	})

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	require.NoError(t, repo.SetDatabaseID(ctx, models.FamilyItems, itemsDB))
	require.NoError(t, repo.SetDatabaseID(ctx, models.FamilyPrompts, promptsDB))

	cfg := Config{
		Client:    remote.New(remote.Options{BaseURL: srv.URL}, ratelimit.New(time.Millisecond)),
		Settings:  repo,
		Conflicts: repo,
		Token:     "secret",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	itemSchema, err := transform.ItemSchema(nil)
	require.NoError(t, err)
	promptSchema, err := transform.PromptSchema(nil)
	require.NoError(t, err)
	labels := resolver.New(repo, nil)

	return &harness{
		repo:    repo,
		fake:    fake,
		schema:  itemSchema,
		items:   NewEngine[*models.Item](NewItemAdapter(repo, itemSchema, labels), queue.New(repo, models.FamilyItems), cfg),
		prompts: NewEngine[*models.Prompt](NewPromptAdapter(repo, promptSchema, labels), queue.New(repo, models.FamilyPrompts), cfg),
	}
}

func (h *harness) syncItems(t *testing.T, opts Options) *Result {
	t.Helper()
	res, err := h.items.Sync(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h *harness) createItem(t *testing.T, item *models.Item) *models.Item {
	t.Helper()
	if item.Kind == "" {
		item.Kind = models.ItemKindTask
	}
	item.SyncStatus = models.SyncStatusPending
	require.NoError(t, h.repo.CreateItem(context.Background(), item))
	return item
}

func (h *harness) enqueue(t *testing.T, id models.UUID, m queue.Mutation) {
	t.Helper()
	_, err := h.items.Queue().Enqueue(context.Background(), id, m)
	require.NoError(t, err)
}

func (h *harness) item(t *testing.T, id models.UUID) *models.Item {
	t.Helper()
	item, err := h.repo.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (h *harness) allItems(t *testing.T) []*models.Item {
	t.Helper()
	items, err := h.repo.ListItems(context.Background(), db.ItemFilter{})
	require.NoError(t, err)
	return items
}

// remoteItem renders an item record as another device would have pushed it.
func (h *harness) remoteItem(id string, item *models.Item, edited time.Time) *remote.Record {
	return &remote.Record{
		ID:             id,
		CreatedTime:    edited,
		LastEditedTime: edited,
		Properties:     transform.ItemToRemote(h.schema, item, resolver.Lookup{}),
	}
}

func selectProp(name string) remote.Property {
	return remote.Property{Type: remote.TypeSelect, Select: &remote.SelectOption{Name: name}}
}

func titleOf(rec remote.Record) string {
	var sb strings.Builder
	for _, rt := range rec.Properties["Name"].Title {
		sb.WriteString(rt.Plain())
	}
	return sb.String()
}

func TestEngine_pullCreatesLocal(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	rec := h.remoteItem("rec-a", &models.Item{Kind: models.ItemKindTask, Title: "Buy milk"}, time.Now().UTC())
	rec.Properties["Category"] = selectProp("Home")
	h.fake.add(rec)

	res := h.syncItems(t, Options{})
	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Created)

	items := h.allItems(t)
	require.Len(t, items, 1)
	assert.Equal(t, "Buy milk", items[0].Title)
	assert.Equal(t, "rec-a", items[0].RemoteID)
	assert.Equal(t, models.SyncStatusSynced, items[0].SyncStatus)

	home, err := h.repo.FindLabelByName(context.Background(), models.LabelCategory, "home")
	require.NoError(t, err)
	assert.Equal(t, home.ID, items[0].CategoryID)
}

func TestEngine_repeatedSyncIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.fake.add(h.remoteItem("rec-a", &models.Item{Kind: models.ItemKindNote, Title: "Idea"}, time.Now().UTC()))
	local := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Draft"})
	h.enqueue(t, local.ID, queue.Create{})

	first := h.syncItems(t, Options{})
	require.True(t, first.Success, "errors: %v", first.Errors)
	second := h.syncItems(t, Options{})
	require.True(t, second.Success, "errors: %v", second.Errors)
	third := h.syncItems(t, Options{Force: true})
	require.True(t, third.Success, "errors: %v", third.Errors)

	assert.Len(t, h.allItems(t), 2)
	assert.Equal(t, 2, h.fake.count())
	assert.Equal(t, 1, h.fake.stats().creates)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Zero(t, third.Created)
	assert.Zero(t, third.Updated)
}

func TestEngine_pushCreateEmbedsLocalID(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Write report", Content: strings.Repeat("x", 4500)})
	h.enqueue(t, item.ID, queue.Create{})

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Created)

	got := h.item(t, item.ID)
	require.NotEmpty(t, got.RemoteID)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	rec := h.fake.record(got.RemoteID)
	assert.Equal(t, "Write report", titleOf(rec))
	assert.Len(t, rec.Properties["Content"].RichText, 3)
	require.Len(t, rec.Properties["Local ID"].RichText, 1)
	assert.Equal(t, string(item.ID), rec.Properties["Local ID"].RichText[0].Plain())

	entries, err := h.items.Queue().List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_pushAdoptsRecordCarryingLocalID(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Local", UpdatedAt: time.Now().UnixMilli()})
	// An earlier push reached the remote but the link was never stored.
	h.fake.add(h.remoteItem("rec-orphan", &models.Item{ID: item.ID, Kind: models.ItemKindTask, Title: "Stale"},
		time.Now().Add(-time.Hour).UTC()))
	h.enqueue(t, item.ID, queue.Update{})

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)

	assert.Equal(t, 0, h.fake.stats().creates)
	assert.Equal(t, 1, h.fake.count())
	assert.Equal(t, "rec-orphan", h.item(t, item.ID).RemoteID)
	assert.Equal(t, "Local", titleOf(h.fake.record("rec-orphan")))
}

func TestEngine_lastWriteWins(t *testing.T) {
	tests := []struct {
		name       string
		offset     time.Duration
		wantTitle  string
		resolution string
	}{
		{"remote newer", time.Minute, "Remote", models.ResolutionRemoteWins},
		{"local newer", -time.Minute, "Local", models.ResolutionLocalWins},
		{"tie keeps local", 0, "Local", models.ResolutionLocalWins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeRemote{})
			localAt := time.Now().Add(-time.Hour).UnixMilli()
			item := h.createItem(t, &models.Item{ID: uuid.New(), RemoteID: "rec-1", Title: "Local", UpdatedAt: localAt})
			h.fake.add(h.remoteItem("rec-1", &models.Item{ID: item.ID, Kind: models.ItemKindTask, Title: "Remote"},
				time.UnixMilli(localAt).Add(tt.offset).UTC()))
			h.enqueue(t, item.ID, queue.Update{})

			res := h.syncItems(t, Options{})
			require.True(t, res.Success, "errors: %v", res.Errors)
			assert.Equal(t, 1, res.Conflicts)

			got := h.item(t, item.ID)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
			assert.Equal(t, tt.wantTitle, titleOf(h.fake.record("rec-1")))

			logs, err := h.repo.ListConflictLogs(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, tt.resolution, logs[0].Resolution)
			assert.Equal(t, localAt, logs[0].LocalTimestamp)
		})
	}
}

func TestEngine_deleteArchivesRemote(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.fake.add(h.remoteItem("rec-1", &models.Item{Kind: models.ItemKindTask, Title: "Old task"}, time.Now().UTC()))
	require.True(t, h.syncItems(t, Options{}).Success)

	items := h.allItems(t)
	require.Len(t, items, 1)
	ctx := context.Background()
	require.NoError(t, h.repo.DeleteItem(ctx, items[0].ID))
	h.enqueue(t, items[0].ID, queue.Delete{RemoteID: "rec-1", Title: "Old task"})

	res := h.syncItems(t, Options{Force: true})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Created, "pending delete must not be pulled back")
	assert.True(t, h.fake.record("rec-1").Archived)
	assert.Empty(t, h.allItems(t))

	// Archived records are ignored from then on.
	res = h.syncItems(t, Options{Force: true})
	assert.Zero(t, res.Created)
	assert.Empty(t, h.allItems(t))
}

func TestEngine_deleteWithoutRemoteIsNoop(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.enqueue(t, uuid.New(), queue.Delete{Title: "never pushed"})

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Zero(t, res.Deleted)
	assert.Zero(t, h.fake.stats().archives)

	entries, err := h.items.Queue().List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_deleteArchivesUnlinkedRecord(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Lost reply", UpdatedAt: time.Now().UnixMilli()})
	// The create reached the remote but its reply never did.
	h.fake.add(h.remoteItem("rec-orphan", &models.Item{ID: item.ID, Kind: models.ItemKindTask, Title: "Lost reply"},
		time.Now().UTC()))
	h.enqueue(t, item.ID, queue.Create{})

	require.NoError(t, h.repo.DeleteItem(context.Background(), item.ID))
	h.enqueue(t, item.ID, queue.Delete{Title: "Lost reply"})

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Created)
	assert.True(t, h.fake.record("rec-orphan").Archived)

	res = h.syncItems(t, Options{Force: true})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Zero(t, res.Created)
	assert.Empty(t, h.allItems(t))
}

func TestEngine_updateForMissingEntityIsDropped(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.enqueue(t, uuid.New(), queue.Update{})

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Zero(t, h.fake.stats().creates)
}

func TestEngine_labelNamesDedupCaseInsensitively(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	now := time.Now().UTC()
	for i, name := range []string{"Work", "work", "WORK "} {
		rec := h.remoteItem(fmt.Sprintf("rec-%d", i), &models.Item{Kind: models.ItemKindTask, Title: name}, now)
		rec.Properties["Category"] = selectProp(name)
		h.fake.add(rec)
	}

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 3, res.Created)

	labels, err := h.repo.ListLabels(context.Background(), models.LabelCategory)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	for _, item := range h.allItems(t) {
		assert.Equal(t, labels[0].ID, item.CategoryID)
	}
}

func TestEngine_notConfigured(t *testing.T) {
	h := newHarness(t, &fakeRemote{}, withoutToken)
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Queued"})
	h.enqueue(t, item.ID, queue.Create{})

	res := h.syncItems(t, Options{})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, apperrors.ErrSyncNotConfigured, res.Errors[0].Code)
	assert.Equal(t, PhaseSetup, res.Errors[0].Phase)
	assert.Zero(t, h.fake.stats().hits)

	entries, err := h.items.Queue().List(context.Background(), models.QueueStatusQueued)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].RetryCount)

	settings, err := h.repo.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settings.LastSyncAt(models.FamilyItems))
	assert.Equal(t, StateIdle, h.items.State())
}

func TestEngine_storedTokenIsOpened(t *testing.T) {
	box := crypto.NewTokenBox("machine-a")
	h := newHarness(t, &fakeRemote{}, withoutToken, func(cfg *Config) { cfg.TokenBox = box })
	sealed, err := box.Seal("stored-token")
	require.NoError(t, err)
	require.NoError(t, h.repo.SetAPIToken(context.Background(), sealed))

	res := h.syncItems(t, Options{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.NotEmpty(t, h.fake.stats().auth)
	assert.Equal(t, "Bearer stored-token", h.fake.stats().auth[0])
}

func TestEngine_checkpoint(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	ctx := context.Background()
	before := models.NowMillis()

	require.True(t, h.syncItems(t, Options{}).Success)
	settings, err := h.repo.GetSettings(ctx)
	require.NoError(t, err)
	checkpoint := settings.LastSyncAt(models.FamilyItems)
	assert.GreaterOrEqual(t, checkpoint, before)
	assert.Zero(t, settings.LastSyncAt(models.FamilyPrompts))

	require.True(t, h.syncItems(t, Options{}).Success)
	require.True(t, h.syncItems(t, Options{Force: true}).Success)

	filters := h.fake.pullFilters()
	require.Len(t, filters, 3)
	assert.Nil(t, filters[0], "first pull fetches everything")
	require.NotNil(t, filters[1])
	require.NotNil(t, filters[1].LastEditedTime)
	since, err := time.Parse(time.RFC3339, filters[1].LastEditedTime.OnOrAfter)
	require.NoError(t, err)
	assert.WithinDuration(t, models.MillisTime(checkpoint).Add(-PullOverlap), since, time.Second)
	assert.Nil(t, filters[2], "forced pull ignores the checkpoint")
}

func TestEngine_pullFailureKeepsCheckpointAndStillPushes(t *testing.T) {
	h := newHarness(t, &fakeRemote{failPull: true})
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Queued"})
	h.enqueue(t, item.ID, queue.Create{})

	res := h.syncItems(t, Options{})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PhasePull, res.Errors[0].Phase)
	assert.Equal(t, apperrors.ErrSyncRemote, res.Errors[0].Code)
	assert.Equal(t, 1, res.Created)

	settings, err := h.repo.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settings.LastSyncAt(models.FamilyItems))
}

func TestEngine_pushFailureIsCollected(t *testing.T) {
	h := newHarness(t, &fakeRemote{createStatus: http.StatusBadRequest})
	item := h.createItem(t, &models.Item{ID: uuid.New(), Title: "Rejected"})
	h.enqueue(t, item.ID, queue.Create{})

	res := h.syncItems(t, Options{})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PhasePush, res.Errors[0].Phase)
	assert.Equal(t, item.ID, res.Errors[0].EntityID)
	assert.Equal(t, apperrors.ErrSyncRemote, res.Errors[0].Code)
	assert.Equal(t, models.SyncStatusError, h.item(t, item.ID).SyncStatus)

	entries, err := h.items.Queue().List(context.Background(), models.QueueStatusQueued)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.NotEmpty(t, entries[0].LastError)
}

type eventLog struct {
	mu     stdsync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func TestEngine_singleFlight(t *testing.T) {
	fake := &fakeRemote{hold: make(chan struct{})}
	h := newHarness(t, fake)
	events := &eventLog{}
	h.items.SetEventHandler(events.handle)

	done := make(chan *Result, 1)
	go func() {
		res, _ := h.items.Sync(context.Background(), Options{})
		done <- res
	}()
	require.Eventually(t, func() bool { return h.items.State() == StatePulling }, time.Second, time.Millisecond)

	res, err := h.items.Sync(context.Background(), Options{})
	assert.Nil(t, res)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	close(fake.hold)
	first := <-done
	require.NotNil(t, first)
	assert.True(t, first.Success, "errors: %v", first.Errors)
	assert.Equal(t, StateIdle, h.items.State())
	assert.Same(t, first, h.items.LastResult())
	assert.ElementsMatch(t, []EventType{EventStarted, EventRejected, EventCompleted}, events.types())
}

func TestEngine_promptsRoundTripAcrossDevices(t *testing.T) {
	fake := &fakeRemote{}
	a := newHarness(t, fake)
	ctx := context.Background()

	writing := &models.Label{Kind: models.LabelPromptCategory, Name: "Writing", Color: "#112233", Icon: "pen"}
	require.NoError(t, a.repo.CreateLabel(ctx, writing))
	prompt := &models.Prompt{ID: uuid.New(), Title: "Summarize", Content: "Summarize the text", CategoryID: writing.ID, Favorite: true}
	require.NoError(t, a.repo.CreatePrompt(ctx, prompt))
	_, err := a.prompts.Queue().Enqueue(ctx, prompt.ID, queue.Create{})
	require.NoError(t, err)

	res, err := a.prompts.Sync(ctx, Options{})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Created)

	b := newHarness(t, fake)
	res, err = b.prompts.Sync(ctx, Options{})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Created)

	got, err := b.repo.GetPrompt(ctx, prompt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summarize the text", got.Content)
	assert.True(t, got.Favorite)

	label, err := b.repo.GetLabel(ctx, got.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, "Writing", label.Name)
	assert.Equal(t, "#112233", label.Color)
	assert.Equal(t, "pen", label.Icon)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCode
	}{
		{"app error", apperrors.New(apperrors.ErrDatabase, "x"), apperrors.ErrDatabase},
		{"unauthorized", &remote.RemoteError{Status: http.StatusUnauthorized}, apperrors.ErrSyncAuthFailed},
		{"forbidden", &remote.RemoteError{Status: http.StatusForbidden}, apperrors.ErrSyncAuthFailed},
		{"rate limited", &remote.RemoteError{Status: http.StatusTooManyRequests}, apperrors.ErrSyncRateLimited},
		{"not configured", &remote.RemoteError{Code: remote.CodeNotConfigured}, apperrors.ErrSyncNotConfigured},
		{"server", fmt.Errorf("wrapped: %w", &remote.RemoteError{Status: http.StatusInternalServerError}), apperrors.ErrSyncRemote},
		{"plain", fmt.Errorf("boom"), apperrors.ErrSyncPushFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codeFor(tt.err, apperrors.ErrSyncPushFailed))
		})
	}
}
