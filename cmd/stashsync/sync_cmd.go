package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/stashsync/cmd/stashsync/handlers"
	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	syncpkg "github.com/kimhsiao/stashsync/internal/sync"
	"github.com/kimhsiao/stashsync/internal/sync/scheduler"
)

var (
	syncFamily string
	syncForce  bool
	serveAddr  string
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Pull remote changes since the last checkpoint, then push queued local
changes. --force ignores the checkpoint and pulls every record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := syncpkg.Options{Force: syncForce}
		var outcomes []scheduler.Outcome
		if syncFamily == "" || syncFamily == "all" {
			outcomes = current.scheduler.RunNow(ctx, opts)
		} else {
			o, err := current.scheduler.RunFamily(ctx, models.Family(syncFamily), opts)
			if err != nil {
				return err
			}
			outcomes = []scheduler.Outcome{o}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), handlers.NewOutcomeResponses(outcomes))
		}
		failed := false
		for _, o := range outcomes {
			printOutcome(cmd.OutOrStdout(), o)
			if o.Err != nil || (o.Result != nil && !o.Result.Success) {
				failed = true
			}
		}
		if failed {
			return errors.New("sync finished with errors")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show credentials, checkpoints and outbox counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := current.repo.GetSettings(ctx)
		if err != nil {
			return err
		}

		type familyStatus struct {
			Family     models.Family  `json:"family"`
			DatabaseID string         `json:"database_id"`
			LastSyncAt int64          `json:"last_sync_at"`
			Queue      map[string]int `json:"queue"`
		}
		out := struct {
			HasToken bool           `json:"has_token"`
			AutoSync bool           `json:"auto_sync_enabled"`
			Interval int            `json:"auto_sync_interval_minutes"`
			Families []familyStatus `json:"families"`
		}{
			HasToken: settings.HasToken() || current.cfg.Remote.Token != "",
			AutoSync: settings.AutoSyncEnabled,
			Interval: settings.AutoSyncIntervalMinutes,
		}
		for _, q := range current.queues() {
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			out.Families = append(out.Families, familyStatus{
				Family:     q.Family(),
				DatabaseID: settings.DatabaseID(q.Family()),
				LastSyncAt: settings.LastSyncAt(q.Family()),
				Queue:      stats,
			})
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), out)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Token:     %s\n", yesNo(out.HasToken))
		fmt.Fprintf(w, "Auto sync: %s every %d min\n", yesNo(out.AutoSync), out.Interval)
		for _, f := range out.Families {
			fmt.Fprintf(w, "\n[%s]\n", f.Family)
			fmt.Fprintf(w, "  Database:  %s\n", orNone(f.DatabaseID))
			fmt.Fprintf(w, "  Last sync: %s\n", formatMillis(f.LastSyncAt))
			fmt.Fprintf(w, "  Outbox:    %d queued, %d failed\n",
				f.Queue[string(models.QueueStatusQueued)], f.Queue[string(models.QueueStatusFailed)])
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := current.scheduler.Start(ctx); err != nil {
			return err
		}
		logging.Info("Daemon running", map[string]interface{}{"status": current.scheduler.Status()})
		<-ctx.Done()
		current.scheduler.Stop()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Serve the local REST and WebSocket API and sync periodically",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := NewWSHub()
		defer hub.Close()
		current.onEvent(func(ev syncpkg.Event) {
			logEvent(ev)
			hub.Publish(ev)
		})

		router := handlers.NewRouter(handlers.RouterConfig{
			Sync:    handlers.NewSyncHandler(current.scheduler, current.repo, current.box, current.queues()...),
			Library: handlers.NewLibraryHandler(current.library),
			Events:  HandleWebSocket(hub),
		})

		addr := serveAddr
		if addr == "" {
			addr = current.cfg.Server.HTTPAddr
		}
		srv := &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		if err := current.scheduler.Start(ctx); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			logging.Info("HTTP server listening", map[string]interface{}{"addr": addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
		}

		logging.Info("Shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncFamily, "family", "f", "all", "family to sync (items, prompts, all)")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "pull every remote record regardless of the checkpoint")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd, serveCmd)
}

func printOutcome(w io.Writer, o scheduler.Outcome) {
	if o.Err != nil {
		if apperrors.Is(o.Err, apperrors.ErrSyncInProgress) {
			fmt.Fprintf(w, "[%s] skipped: a sync is already running\n", o.Family)
			return
		}
		fmt.Fprintf(w, "[%s] failed: %v\n", o.Family, o.Err)
		return
	}
	r := o.Result
	state := "ok"
	if !r.Success {
		state = "with errors"
	}
	fmt.Fprintf(w, "[%s] %s in %v: %d created, %d updated, %d deleted",
		o.Family, state, r.Duration.Round(time.Millisecond), r.Created, r.Updated, r.Deleted)
	if r.Conflicts > 0 {
		fmt.Fprintf(w, ", %d conflicts", r.Conflicts)
	}
	fmt.Fprintln(w)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format(time.RFC3339)
}
