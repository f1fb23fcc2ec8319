package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/stashsync/internal/db"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/services"
)

var (
	itemIn    services.ItemInput
	itemKind  string
	itemLimit int
	promptIn  services.PromptInput
	labelKind string
)

var itemCmd = &cobra.Command{
	Use:     "item",
	GroupID: "library",
	Short:   "Manage tasks, bookmarks and notes",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an item and queue it for sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := itemIn
		in.Title = args[0]
		in.Kind = models.ItemKind(itemKind)
		item, err := current.library.AddItem(cmd.Context(), in)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", item.Kind, item.ID)
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := current.library.ListItems(cmd.Context(), db.ItemFilter{
			Kind:  models.ItemKind(itemKind),
			Limit: itemLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), items)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTITLE\tSTATUS\tSYNC")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Kind, it.Title, it.Status, it.SyncStatus)
		}
		return tw.Flush()
	},
}

var itemEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change an item; only the flags given are applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p services.ItemPatch
		flags := cmd.Flags()
		p.Title = changed(cmd, "title")
		p.Content = changed(cmd, "content")
		p.URL = changed(cmd, "url")
		p.Status = changed(cmd, "status")
		p.Priority = changed(cmd, "priority")
		p.DueDate = changed(cmd, "due")
		p.Category = changed(cmd, "category")
		p.Project = changed(cmd, "project")
		if flags.Changed("kind") {
			k := models.ItemKind(itemKind)
			p.Kind = &k
		}
		if flags.Changed("tags") {
			tags := itemIn.Tags
			p.Tags = &tags
		}

		item, err := current.library.EditItem(cmd.Context(), models.UUID(args[0]), p)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", item.ID)
		return nil
	},
}

var itemRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an item; the remote record is archived on the next sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.library.RemoveItem(cmd.Context(), models.UUID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var promptCmd = &cobra.Command{
	Use:     "prompt",
	GroupID: "library",
	Short:   "Manage prompts",
}

var promptAddCmd = &cobra.Command{
	Use:   "add <title> <content>",
	Short: "Add a prompt and queue it for sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := promptIn
		in.Title, in.Content = args[0], args[1]
		p, err := current.library.AddPrompt(cmd.Context(), in)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added prompt %s\n", p.ID)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompts, err := current.library.ListPrompts(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), prompts)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tFAVORITE\tSYNC")
		for _, p := range prompts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Title, yesNo(p.Favorite), p.SyncStatus)
		}
		return tw.Flush()
	},
}

var promptRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a prompt; the remote record is archived on the next sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.library.RemovePrompt(cmd.Context(), models.UUID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:     "label",
	GroupID: "library",
	Short:   "Inspect categories, projects and tags",
}

var labelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List labels of one kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := current.library.Labels(cmd.Context(), models.LabelKind(labelKind))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), labels)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCOLOR\tICON")
		for _, l := range labels {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, l.Color, l.Icon)
		}
		return tw.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{itemAddCmd, itemEditCmd} {
		f := c.Flags()
		f.StringVar(&itemKind, "kind", string(models.ItemKindNote), "task, bookmark or note")
		f.StringVar(&itemIn.Content, "content", "", "body text")
		f.StringVar(&itemIn.URL, "url", "", "link")
		f.StringVar(&itemIn.Status, "status", "", "status name")
		f.StringVar(&itemIn.Priority, "priority", "", "priority name")
		f.StringVar(&itemIn.DueDate, "due", "", "due date (YYYY-MM-DD)")
		f.StringVar(&itemIn.Category, "category", "", "category name")
		f.StringVar(&itemIn.Project, "project", "", "project name")
		f.StringSliceVar(&itemIn.Tags, "tags", nil, "comma-separated tag names")
	}
	itemEditCmd.Flags().StringVar(&itemIn.Title, "title", "", "new title")
	itemListCmd.Flags().StringVar(&itemKind, "kind", "", "only items of this kind")
	itemListCmd.Flags().IntVar(&itemLimit, "limit", 0, "maximum number of items")

	promptAddCmd.Flags().StringVar(&promptIn.Description, "description", "", "short description")
	promptAddCmd.Flags().StringVar(&promptIn.Category, "category", "", "category name")
	promptAddCmd.Flags().StringSliceVar(&promptIn.Tags, "tags", nil, "comma-separated tag names")
	promptAddCmd.Flags().BoolVar(&promptIn.Favorite, "favorite", false, "mark as favorite")

	labelListCmd.Flags().StringVar(&labelKind, "kind", string(models.LabelTag),
		"category, project, tag, prompt_category or prompt_tag")

	itemCmd.AddCommand(itemAddCmd, itemListCmd, itemEditCmd, itemRmCmd)
	promptCmd.AddCommand(promptAddCmd, promptListCmd, promptRmCmd)
	labelCmd.AddCommand(labelListCmd)
	rootCmd.AddCommand(itemCmd, promptCmd, labelCmd)
}

// changed returns the flag's value when it was given on the command line.
func changed(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil
	}
	return &v
}
