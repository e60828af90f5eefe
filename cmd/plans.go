package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/store"
)

// newPlansCmd groups the saved-plan management subcommands.
func newPlansCmd(rt runtime) *cobra.Command {
	plansCmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage saved plans",
	}

	// withStore opens the configured repository around fn.
	withStore := func(fn func(cmd *cobra.Command, repo store.Repository, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			repo, cleanup, err := rt.openStore(cmd.Context(), cfg.Store(), observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open plan store: %w", err)
			}
			defer cleanup()
			return fn(cmd, repo, args)
		}
	}

	var scheduledOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved plans",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, repo store.Repository, _ []string) error {
			list := repo.List
			if scheduledOnly {
				list = repo.Scheduled
			}
			plans, err := list(cmd.Context())
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved plans.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROGRESS\tSCHEDULE")
			for _, p := range plans {
				schedule := p.ScheduledTime()
				if schedule == "" {
					schedule = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID(), p.Name(), p.Progress(), schedule)
			}
			return tw.Flush()
		}),
	}
	listCmd.Flags().BoolVar(&scheduledOnly, "scheduled", false, "only list plans with a scheduled time")

	showCmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show the steps of a saved plan",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, repo store.Repository, args []string) error {
			p, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), p)
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Delete a saved plan",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, repo store.Repository, args []string) error {
			if err := repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s\n", args[0])
			return nil
		}),
	}

	resetCmd := &cobra.Command{
		Use:   "reset <plan-id>",
		Short: "Rewind a saved plan to its first step",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, repo store.Repository, args []string) error {
			if err := repo.ResetProgress(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset plan %s\n", args[0])
			return nil
		}),
	}

	plansCmd.AddCommand(listCmd, showCmd, deleteCmd, resetCmd)
	return plansCmd
}
