package main

import (
	"fmt"

	"github.com/kimhsiao/stashsync/internal/config"
	"github.com/kimhsiao/stashsync/internal/crypto"
	"github.com/kimhsiao/stashsync/internal/db"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/services"
	syncpkg "github.com/kimhsiao/stashsync/internal/sync"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
	"github.com/kimhsiao/stashsync/internal/sync/ratelimit"
	"github.com/kimhsiao/stashsync/internal/sync/remote"
	"github.com/kimhsiao/stashsync/internal/sync/resolver"
	"github.com/kimhsiao/stashsync/internal/sync/scheduler"
	"github.com/kimhsiao/stashsync/internal/sync/transform"
)

// app holds everything a command needs. The two engines and the library
// share one outbox per family.
type app struct {
	cfg  config.Config
	conn *db.DB
	repo *db.Repository
	box  *crypto.TokenBox

	itemQueue   *queue.Queue
	promptQueue *queue.Queue
	items       *syncpkg.Engine[*models.Item]
	prompts     *syncpkg.Engine[*models.Prompt]
	scheduler   *scheduler.Scheduler
	library     *services.Library
}

func newApp(cfg config.Config) (*app, error) {
	conn, err := db.Open(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := db.NewRepository(conn.DB)

	a := &app{
		cfg:         cfg,
		conn:        conn,
		repo:        repo,
		box:         crypto.NewTokenBox(crypto.MachineID(cfg.App.MachineID)),
		itemQueue:   queue.New(repo, models.FamilyItems),
		promptQueue: queue.New(repo, models.FamilyPrompts),
	}

	itemSchema, err := transform.ItemSchema(cfg.Remote.Items.Columns)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("items columns: %w", err)
	}
	promptSchema, err := transform.PromptSchema(cfg.Remote.Prompts.Columns)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("prompts columns: %w", err)
	}

	client := remote.New(remote.Options{
		BaseURL:       cfg.Remote.BaseURL,
		VersionHeader: cfg.Remote.VersionHeader,
		Version:       cfg.Remote.Version,
		PageSize:      cfg.Remote.PageSize,
		Timeout:       cfg.Remote.Timeout,
	}, ratelimit.New(cfg.Remote.RateInterval))

	engineCfg := syncpkg.Config{
		Client:    client,
		Settings:  repo,
		Conflicts: repo,
		TokenBox:  a.box,
		Token:     cfg.Remote.Token,
	}
	labels := resolver.New(repo, nil)
	a.items = syncpkg.NewEngine[*models.Item](syncpkg.NewItemAdapter(repo, itemSchema, labels), a.itemQueue, engineCfg)
	a.prompts = syncpkg.NewEngine[*models.Prompt](syncpkg.NewPromptAdapter(repo, promptSchema, labels), a.promptQueue, engineCfg)
	a.scheduler = scheduler.New(a.engines(), repo, scheduler.Config{
		Enabled:  cfg.Sync.AutoEnabled,
		Interval: cfg.Sync.Interval,
	})
	a.library = services.NewLibrary(repo, a.itemQueue, a.promptQueue, labels)

	a.onEvent(logEvent)
	return a, nil
}

func (a *app) engines() []syncpkg.Syncer {
	return []syncpkg.Syncer{a.items, a.prompts}
}

func (a *app) queues() []*queue.Queue {
	return []*queue.Queue{a.itemQueue, a.promptQueue}
}

func (a *app) queue(family models.Family) *queue.Queue {
	if family == models.FamilyPrompts {
		return a.promptQueue
	}
	return a.itemQueue
}

// onEvent installs handler on every engine.
func (a *app) onEvent(handler syncpkg.EventHandler) {
	for _, e := range a.engines() {
		e.SetEventHandler(handler)
	}
}

// Close stops the scheduler and releases the database.
func (a *app) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.repo.Close()
	return a.conn.Close()
}

func logEvent(ev syncpkg.Event) {
	ctx := map[string]interface{}{"family": ev.Family}
	if ev.Result != nil {
		ctx["created"] = ev.Result.Created
		ctx["updated"] = ev.Result.Updated
		ctx["deleted"] = ev.Result.Deleted
		ctx["errors"] = len(ev.Result.Errors)
	}
	logging.Debug("Sync event "+string(ev.Type), ctx)
}
