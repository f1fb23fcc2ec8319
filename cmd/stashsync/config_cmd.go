package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/models"
)

var (
	autoSyncOff      bool
	autoSyncInterval int
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "sync",
	Short:   "Manage remote credentials and sync settings",
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store the remote API token, encrypted for this machine",
	Long: `Store the remote API token. Without an argument the token is read from
standard input, which keeps it out of the shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.Wrap(errors.ErrValidation, "read token", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New(errors.ErrValidation, "token is required")
		}

		sealed, err := current.box.Seal(token)
		if err != nil {
			return errors.Wrap(errors.ErrCryptoFailed, "seal token", err)
		}
		if err := current.repo.SetAPIToken(cmd.Context(), sealed); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
		return nil
	},
}

var configClearTokenCmd = &cobra.Command{
	Use:   "clear-token",
	Short: "Remove the stored API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.repo.SetAPIToken(cmd.Context(), ""); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token removed")
		return nil
	},
}

var configSetDatabaseCmd = &cobra.Command{
	Use:   "set-database <items|prompts> <database-id>",
	Short: "Bind a family to a remote database",
	Long: `Bind a family to a remote database. Binding a different database resets
the family checkpoint, so the next sync pulls every record.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		family := models.Family(args[0])
		if !family.Valid() {
			return errors.New(errors.ErrValidation, "unknown family: "+args[0])
		}
		id := strings.TrimSpace(args[1])
		if id == "" {
			return errors.New(errors.ErrValidation, "database id is required")
		}
		if err := current.repo.SetDatabaseID(cmd.Context(), family, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s bound to %s\n", family, id)
		return nil
	},
}

var configAutoSyncCmd = &cobra.Command{
	Use:   "auto-sync",
	Short: "Enable or disable periodic sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := current.repo.GetSettings(ctx)
		if err != nil {
			return err
		}
		minutes := settings.AutoSyncIntervalMinutes
		if cmd.Flags().Changed("interval") {
			minutes = autoSyncInterval
		}
		if err := current.repo.SetAutoSync(ctx, !autoSyncOff, minutes); err != nil {
			return err
		}
		state := "enabled"
		if autoSyncOff {
			state = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Auto sync %s, every %d min\n", state, minutes)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := current.cfg
		if cfg.Remote.Token != "" {
			cfg.Remote.Token = "(set)"
		}
		return printJSON(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configAutoSyncCmd.Flags().BoolVar(&autoSyncOff, "off", false, "disable periodic sync")
	configAutoSyncCmd.Flags().IntVar(&autoSyncInterval, "interval", 5, "minutes between runs")

	configCmd.AddCommand(configSetTokenCmd, configClearTokenCmd, configSetDatabaseCmd, configAutoSyncCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
