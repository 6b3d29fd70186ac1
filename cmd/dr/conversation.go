package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/darkroom/internal/conversation"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Prompt-optimization conversation commands",
	}

	cmd.AddCommand(newConversationListCmd())
	cmd.AddCommand(newConversationShowCmd())
	return cmd
}

func openConversationStore(configPath string) (*conversation.Store, error) {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return conversation.NewStore(conversation.StoreOpts{DB: gormDB})
}

func newConversationListCmd() *cobra.Command {
	var (
		configPath string
		filters    conversation.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConversationStore(configPath)
			if err != nil {
				return err
			}
			convs, err := store.List(context.Background(), filters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations found.")
				return nil
			}
			now := time.Now()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tFINAL PROMPT\tAGE")
			for _, c := range convs {
				final := c.FinalPrompt
				if final == "" {
					final = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(c.ID), c.Source, colorStatus(c.Status), truncate(final, 40), formatAge(c.CreatedAt, now))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	cmd.Flags().StringVar(&filters.Source, "source", "", "filter by source (web, feishu)")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (active, completed, discarded)")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum rows")
	return cmd
}

func newConversationShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConversationStore(configPath)
			if err != nil {
				return err
			}
			conv, err := store.Get(context.Background(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Conversation: %s\n", conv.ID)
			fmt.Fprintf(out, "Source:       %s\n", conv.Source)
			fmt.Fprintf(out, "Status:       %s\n", colorStatus(conv.Status))
			if conv.FinalPrompt != "" {
				fmt.Fprintf(out, "Final prompt: %s\n", conv.FinalPrompt)
			}
			fmt.Fprintln(out)
			for _, m := range conv.Messages {
				fmt.Fprintf(out, "[%d] %s: %s\n", m.Sequence, m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	return cmd
}
