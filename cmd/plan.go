package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/plan"
)

// newPlanCmd creates the `plan` command, which turns a request into a saved plan.
func newPlanCmd(rt runtime) *cobra.Command {
	var (
		schedule string
		noSave   bool
		quiet    bool
	)

	planCmd := &cobra.Command{
		Use:   "plan [request...]",
		Short: "Generate a step-by-step plan for a task and save it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()

			gateway, err := rt.newGateway(ctx, cfg.LLM(), nil, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize model gateway: %w", err)
			}

			planner := plan.NewPlanner(gateway, logger, plannerOptions(out, quiet)...)
			p, err := planner.Generate(ctx, strings.Join(args, " "))
			if !quiet {
				fmt.Fprintln(out)
			}
			if err != nil {
				return fmt.Errorf("planning failed: %w", err)
			}
			if err := p.SetScheduledTime(schedule); err != nil {
				return err
			}

			printPlan(out, p)
			if noSave {
				return nil
			}

			repo, cleanup, err := rt.openStore(ctx, cfg.Store(), logger)
			if err != nil {
				return fmt.Errorf("failed to open plan store: %w", err)
			}
			defer cleanup()
			if err := repo.Save(ctx, p); err != nil {
				return err
			}
			logger.Info("Plan saved", zap.String("plan_id", p.ID()), zap.Int("steps", p.Len()))
			fmt.Fprintf(out, "Saved plan %s\n", p.ID())
			return nil
		},
	}

	planCmd.Flags().StringVar(&schedule, "schedule", "", "daily trigger time as HH:MM")
	planCmd.Flags().BoolVar(&noSave, "no-save", false, "print the plan without saving it")
	planCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream model output while planning")
	return planCmd
}

// newRefineCmd creates the `refine` command, which revises a saved plan.
func newRefineCmd(rt runtime) *cobra.Command {
	var (
		replace bool
		quiet   bool
	)

	refineCmd := &cobra.Command{
		Use:   "refine <plan-id> [feedback...]",
		Short: "Revise a saved plan according to feedback",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()

			repo, cleanup, err := rt.openStore(ctx, cfg.Store(), logger)
			if err != nil {
				return fmt.Errorf("failed to open plan store: %w", err)
			}
			defer cleanup()

			current, err := repo.Get(ctx, args[0])
			if err != nil {
				return err
			}

			gateway, err := rt.newGateway(ctx, cfg.LLM(), nil, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize model gateway: %w", err)
			}
			planner := plan.NewPlanner(gateway, logger, plannerOptions(out, quiet)...)
			refined, err := planner.Refine(ctx, current, strings.Join(args[1:], " "))
			if !quiet {
				fmt.Fprintln(out)
			}
			if err != nil {
				return fmt.Errorf("refining failed: %w", err)
			}

			if err := repo.Save(ctx, refined); err != nil {
				return err
			}
			if replace {
				if err := repo.Delete(ctx, current.ID()); err != nil {
					return err
				}
			}
			printPlan(out, refined)
			fmt.Fprintf(out, "Saved plan %s\n", refined.ID())
			return nil
		},
	}

	refineCmd.Flags().BoolVar(&replace, "replace", false, "delete the original plan after saving the revision")
	refineCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream model output while planning")
	return refineCmd
}

func plannerOptions(out io.Writer, quiet bool) []plan.PlannerOption {
	if quiet {
		return nil
	}
	return []plan.PlannerOption{plan.WithTokenHandler(func(token string) {
		fmt.Fprint(out, token)
	})}
}
