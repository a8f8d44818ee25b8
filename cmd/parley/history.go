package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/parley/internal/policy"
	"github.com/antoniostano/parley/internal/store"
)

var (
	historyLimit int
	historyRole  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Cleanup()

		list, err := rt.History.LoadConversations(cmd.Context())
		if err != nil {
			return err
		}
		if historyLimit > 0 && historyLimit < len(list) {
			list = list[:historyLimit]
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tMESSAGES\tDURATION\tSTATUS")
		for _, c := range list {
			status := "open"
			if c.Ended() {
				status = "ended"
			}
			dur := time.Duration(c.Stats.TotalDurationSeconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				c.ID, c.StartedAt.Local().Format(time.DateTime), len(c.Messages), dur, status)
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Cleanup()

		c, err := rt.History.GetConversation(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conversation %s not found", args[0])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one conversation and its audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Cleanup()

		if err := rt.History.DeleteConversation(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !policy.CanClearHistory(policy.ParseRole(historyRole)) {
			return fmt.Errorf("role %q may not clear history", historyRole)
		}
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Cleanup()

		if err := rt.History.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 0, "show at most this many conversations")
	historyClearCmd.Flags().StringVar(&historyRole, "role", "user", "caller role: user, admin or demo")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}
