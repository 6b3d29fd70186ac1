package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/darkroom/internal/models"
	"github.com/zulandar/darkroom/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task inspection and conflict resolution",
	}

	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskResolveCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	return cmd
}

// openTaskStore builds a task store over the configured database. Events are
// discarded: the CLI has no subscribers.
func openTaskStore(configPath string) (*task.Store, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return task.NewStore(task.StoreOpts{
		DB:           gormDB,
		Timeout:      cfg.Tasks.Timeout,
		MaxBatchSize: cfg.Tasks.MaxBatchSize,
	})
}

func newTaskListCmd() *cobra.Command {
	var (
		configPath   string
		filters      task.ListFilters
		conflictOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  "Lists tasks newest first with optional filters. Status filters use the effective status, so timed-out tasks list as FAILED.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd, configPath, filters, conflictOnly)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	cmd.Flags().StringVar(&filters.UserID, "user", "", "filter by user ID")
	cmd.Flags().StringVar(&filters.BatchID, "batch", "", "filter by batch ID")
	cmd.Flags().StringVar(&filters.ConversationID, "conversation", "", "filter by conversation ID")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED)")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&conflictOnly, "conflicts", false, "only tasks with an unresolved version conflict")
	return cmd
}

func runTaskList(cmd *cobra.Command, configPath string, filters task.ListFilters, conflictOnly bool) error {
	store, err := openTaskStore(configPath)
	if err != nil {
		return err
	}
	tasks, err := store.List(context.Background(), filters)
	if err != nil {
		return err
	}
	if conflictOnly {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.ConflictDetected {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROMPT\tSTATUS\tPROG\tVER\tSYNC\tBY\tAGE")
	for _, t := range tasks {
		ver := fmt.Sprintf("%d", t.Version)
		if t.ConflictDetected {
			ver += "!"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\t%s\n",
			shortID(t.ID), truncate(t.Prompt, 40), colorStatus(t.Status), t.Progress,
			ver, colorStatus(t.SyncStatus), t.LastModifiedBy, formatAge(t.CreatedAt, now))
	}
	w.Flush()
	return nil
}

func newTaskShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	return cmd
}

func runTaskShow(cmd *cobra.Command, configPath, id string) error {
	store, err := openTaskStore(configPath)
	if err != nil {
		return err
	}
	t, err := store.Get(context.Background(), id)
	if err != nil {
		return err
	}
	printTask(cmd, t)
	return nil
}

func printTask(cmd *cobra.Command, t *models.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:        %s\n", t.ID)
	fmt.Fprintf(out, "Status:      %s (%d%%)\n", colorStatus(t.Status), t.Progress)
	fmt.Fprintf(out, "Version:     %d\n", t.Version)
	if t.ConflictDetected {
		fmt.Fprintf(out, "Conflict:    %s\n", statusBad("unresolved"))
	}
	fmt.Fprintf(out, "Modified:    %s by %s\n", t.LastModifiedAt.Format(time.RFC3339), t.LastModifiedBy)
	fmt.Fprintf(out, "Sync:        %s", colorStatus(t.SyncStatus))
	if t.ExternalRecordID != "" {
		fmt.Fprintf(out, " (record %s)", t.ExternalRecordID)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Model:       %s  %s  x%d  %s\n", t.AIModel, t.AspectRatio, t.ImageCount, t.Quality)
	if t.BatchID != nil && t.BatchIndex != nil {
		fmt.Fprintf(out, "Batch:       %s #%d\n", *t.BatchID, *t.BatchIndex)
	}
	if t.ConversationID != nil {
		fmt.Fprintf(out, "Conversation: %s\n", *t.ConversationID)
	}
	fmt.Fprintf(out, "\nPrompt:\n  %s\n", t.Prompt)
	if t.OriginalPrompt != "" && t.OriginalPrompt != t.Prompt {
		fmt.Fprintf(out, "Original prompt:\n  %s\n", t.OriginalPrompt)
	}
	if len(t.ResultImages) > 0 {
		fmt.Fprintln(out, "\nResults:")
		for _, img := range t.ResultImages {
			fmt.Fprintf(out, "  %s\n", img)
		}
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(out, "\nError: %s\n", t.ErrorMessage)
	}
}

func newTaskResolveCmd() *cobra.Command {
	var (
		configPath string
		strategy   string
		modifier   string
		version    int
		sets       []string
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a version conflict",
		Long: `Clears a task's conflict flag with one of three strategies:

  use_remote  keep the stored record
  use_local   re-apply the rejected edit, passed with --set
  merge       write the merged fields given with --set (at least one)

Values passed to --set are parsed as JSON when possible, so
--set imageCount=2 --set 'inputImages=["a.png"]' work as expected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseSetFlags(sets)
			if err != nil {
				return err
			}
			req := task.ResolveRequest{
				Strategy: task.Strategy(strategy),
				Modifier: modifier,
			}
			if cmd.Flags().Changed("version") {
				req.ExpectedVersion = &version
			}
			switch req.Strategy {
			case task.UseLocal:
				req.LocalFields = fields
			case task.Merge:
				req.MergedFields = fields
			}
			return runTaskResolve(cmd, configPath, args[0], req)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	cmd.Flags().StringVar(&strategy, "strategy", "", "use_local, use_remote or merge (required)")
	cmd.Flags().StringVar(&modifier, "modifier", models.ModifierWeb, "who is resolving: web, feishu or api")
	cmd.Flags().IntVar(&version, "version", 0, "fail unless the stored version still matches")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to write (repeatable)")
	cmd.MarkFlagRequired("strategy")
	return cmd
}

func runTaskResolve(cmd *cobra.Command, configPath, id string, req task.ResolveRequest) error {
	store, err := openTaskStore(configPath)
	if err != nil {
		return err
	}
	t, err := store.Resolve(context.Background(), id, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s with %s, now at version %d\n", t.ID, req.Strategy, t.Version)
	return nil
}

// parseSetFlags turns key=value pairs into a field map. Values that parse as
// JSON keep their JSON type; anything else is a plain string.
func parseSetFlags(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	fields := make(map[string]any, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want field=value", s)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}

func newTaskDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(configPath)
			if err != nil {
				return err
			}
			if err := store.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	return cmd
}
