// Package scheduler runs sync cycles on a timer and on demand.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	syncpkg "github.com/kimhsiao/stashsync/internal/sync"
)

// DefaultInterval is used when neither settings nor config name one.
const DefaultInterval = 5 * time.Minute

// SettingsStore supplies the stored auto-sync preferences.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

// Config holds the configured defaults. Stored settings take precedence
// for the interval; Enabled=false turns the timer off regardless.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Outcome is the result of one family within a run.
type Outcome struct {
	Family models.Family   `json:"family"`
	Result *syncpkg.Result `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// Scheduler triggers the family engines periodically.
type Scheduler struct {
	engines  []syncpkg.Syncer
	settings SettingsStore
	cfg      Config

	mu       sync.RWMutex
	cron     *cron.Cron
	entry    cron.EntryID
	baseCtx  context.Context
	running  bool
	enabled  bool
	interval time.Duration
	lastRun  time.Time
}

// New creates a Scheduler over engines. settings may be nil.
func New(engines []syncpkg.Syncer, settings SettingsStore, cfg Config) *Scheduler {
	return &Scheduler{
		engines:  engines,
		settings: settings,
		cfg:      cfg,
		interval: effectiveInterval(0, cfg.Interval),
	}
}

// Start begins periodic runs with ctx as the base context of every cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	logging.Info("Sync scheduler started", nil)
	return nil
}

// Reload re-reads the auto-sync settings and reschedules.
func (s *Scheduler) Reload(ctx context.Context) error {
	enabled, interval := s.resolve(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.interval = interval
	if !s.running {
		return nil
	}

	s.stopCron()
	if !enabled {
		logging.Info("Auto sync disabled", nil)
		return nil
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	id, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.tick)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "schedule auto sync", err)
	}
	c.Start()
	s.cron, s.entry = c, id
	logging.Info("Auto sync scheduled", map[string]interface{}{"interval": interval.String()})
	return nil
}

// Stop halts periodic runs and waits for a running tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.cron, s.entry = nil, 0
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	logging.Info("Sync scheduler stopped", nil)
}

// stopCron stops the current cron without waiting. Callers hold s.mu.
func (s *Scheduler) stopCron() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron, s.entry = nil, 0
	}
}

func (s *Scheduler) resolve(ctx context.Context) (bool, time.Duration) {
	enabled := s.cfg.Enabled
	minutes := 0
	if s.settings != nil {
		settings, err := s.settings.GetSettings(ctx)
		if err != nil {
			logging.Warn("Failed to read auto sync settings, using config", map[string]interface{}{"error": err.Error()})
		} else {
			enabled = enabled && settings.AutoSyncEnabled
			minutes = settings.AutoSyncIntervalMinutes
		}
	}
	return enabled, effectiveInterval(minutes, s.cfg.Interval)
}

func effectiveInterval(minutes int, configured time.Duration) time.Duration {
	switch {
	case minutes > 0:
		return time.Duration(minutes) * time.Minute
	case configured > 0:
		return configured
	}
	return DefaultInterval
}

func (s *Scheduler) tick() {
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, o := range s.RunNow(ctx, syncpkg.Options{}) {
		if o.Err != nil {
			if errors.Is(o.Err, errors.ErrSyncInProgress) {
				logging.Debug("Periodic sync skipped, cycle running", map[string]interface{}{"family": o.Family})
				continue
			}
			logging.ErrorWithCode("Periodic sync failed", string(errors.ErrSyncFailed), o.Err,
				map[string]interface{}{"family": o.Family})
		}
	}
}

// RunNow runs one cycle per family, in order, and returns once all finish.
func (s *Scheduler) RunNow(ctx context.Context, opts syncpkg.Options) []Outcome {
	return s.run(ctx, opts, nil)
}

// RunFamily runs one cycle of a single family.
func (s *Scheduler) RunFamily(ctx context.Context, family models.Family, opts syncpkg.Options) (Outcome, error) {
	out := s.run(ctx, opts, func(f models.Family) bool { return f == family })
	if len(out) == 0 {
		return Outcome{}, errors.New(errors.ErrValidation, "unknown family: "+string(family))
	}
	return out[0], nil
}

func (s *Scheduler) run(ctx context.Context, opts syncpkg.Options, keep func(models.Family) bool) []Outcome {
	out := make([]Outcome, 0, len(s.engines))
	for _, e := range s.engines {
		if keep != nil && !keep(e.Family()) {
			continue
		}
		res, err := e.Sync(ctx, opts)
		out = append(out, Outcome{Family: e.Family(), Result: res, Err: err})
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
	return out
}

// FamilyStatus describes one engine.
type FamilyStatus struct {
	Family     models.Family   `json:"family"`
	State      syncpkg.State   `json:"state"`
	LastResult *syncpkg.Result `json:"last_result,omitempty"`
}

// Status reports the scheduler and every engine.
type Status struct {
	Running  bool           `json:"running"`
	Enabled  bool           `json:"enabled"`
	Interval string         `json:"interval"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
	LastRun  *time.Time     `json:"last_run,omitempty"`
	Families []FamilyStatus `json:"families"`
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	status := Status{
		Running:  s.running,
		Enabled:  s.enabled,
		Interval: s.interval.String(),
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
	}
	s.mu.RUnlock()

	for _, e := range s.engines {
		status.Families = append(status.Families, FamilyStatus{
			Family:     e.Family(),
			State:      e.State(),
			LastResult: e.LastResult(),
		})
	}
	return status
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug("cron: "+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error("cron: "+msg, err, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return m
}
