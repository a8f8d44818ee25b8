package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var usageReset bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the daily word budget",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Cleanup()

		ctx := cmd.Context()
		if usageReset {
			rt.Usage.Reset(ctx)
		}
		u := rt.Usage.Usage(ctx)
		limit := rt.Usage.Limit()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "window:    %s\n", u.WindowStartDate)
		fmt.Fprintf(out, "used:      %d of %d words (%.1f%%)\n", u.TotalWords, limit, 100*float64(u.TotalWords)/float64(limit))
		fmt.Fprintf(out, "remaining: %d\n", max(limit-u.TotalWords, 0))
		fmt.Fprintf(out, "warning:   %s\n", u.WarningLevel)
		return nil
	},
}

func init() {
	usageCmd.Flags().BoolVar(&usageReset, "reset", false, "start a fresh window before printing")
	rootCmd.AddCommand(usageCmd)
}
