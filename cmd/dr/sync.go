package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/darkroom/internal/synclog"
	"github.com/zulandar/darkroom/internal/task"
	"go.uber.org/zap"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Document backend sync commands",
	}

	cmd.AddCommand(newSyncListCmd())
	cmd.AddCommand(newSyncRetryCmd())
	return cmd
}

func newSyncListCmd() *cobra.Command {
	var (
		configPath string
		filters    synclog.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			entries, err := synclog.List(context.Background(), gormDB, filters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No sync logs found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENTITY\tACTION\tSOURCE\tSTATUS\tRETRIES\tERROR")
			for _, e := range entries {
				errMsg := e.ErrorMessage
				if errMsg == "" {
					errMsg = "-"
				}
				fmt.Fprintf(w, "%d\t%s/%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					e.ID, e.EntityType, shortID(e.EntityID), e.Action, e.Source,
					colorStatus(e.Status), e.RetryCount, e.MaxRetries, truncate(errMsg, 50))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	cmd.Flags().StringVar(&filters.EntityID, "entity", "", "filter by entity ID")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (PENDING, SUCCESS, FAILED, RETRYING)")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum rows")
	return cmd
}

func newSyncRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Run one retry pass over failed syncs",
		Long:  "Re-pushes every task whose last sync attempt is RETRYING. The server does this on sync.retry_cron; this runs it once now.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Sync.Enabled() {
				return fmt.Errorf("sync is not configured: set sync.endpoint in %s", configPath)
			}
			store, err := task.NewStore(task.StoreOpts{DB: gormDB, Timeout: cfg.Tasks.Timeout})
			if err != nil {
				return err
			}

			ctx := context.Background()
			dispatcher, err := newDispatcher(ctx, cfg.Sync, gormDB, store, zap.NewNop())
			if err != nil {
				return err
			}
			n, err := dispatcher.RetryPending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retried syncs: %d succeeded\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	return cmd
}
