package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
)

var (
	queueFamily string
	queueStatus string
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and retry outbox entries",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		queues, err := selectQueues(queueFamily)
		if err != nil {
			return err
		}

		entries := []*models.SyncQueueEntry{}
		for _, q := range queues {
			list, err := q.List(cmd.Context(), models.QueueStatus(queueStatus))
			if err != nil {
				return err
			}
			entries = append(entries, list...)
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFAMILY\tOP\tENTITY\tSTATUS\tRETRIES\tLAST ERROR")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Family, e.Operation, e.EntityID, e.Status, e.RetryCount, e.LastError)
		}
		return tw.Flush()
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Re-arm a failed entry with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := models.UUID(args[0])
		for _, q := range current.queues() {
			e, err := q.Retry(cmd.Context(), id)
			if errors.Is(err, errors.ErrQueueNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %s %s of %s\n", e.Family, e.Operation, e.EntityID)
			return nil
		}
		return errors.New(errors.ErrQueueNotFound, "queue entry not found: "+args[0])
	},
}

var queueRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Re-arm every failed entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		queues, err := selectQueues(queueFamily)
		if err != nil {
			return err
		}
		total := 0
		for _, q := range queues {
			n, err := q.RetryAll(cmd.Context())
			if err != nil {
				return err
			}
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %d failed entries\n", total)
		return nil
	},
}

func init() {
	queueCmd.PersistentFlags().StringVarP(&queueFamily, "family", "f", "all", "family (items, prompts, all)")
	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "only entries with this status (queued, syncing, failed)")

	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueRetryAllCmd)
	rootCmd.AddCommand(queueCmd)
}

func selectQueues(family string) ([]*queue.Queue, error) {
	if family == "" || family == "all" {
		return current.queues(), nil
	}
	f := models.Family(family)
	if !f.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown family: "+family)
	}
	return []*queue.Queue{current.queue(f)}, nil
}
