package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/plan"
	"github.com/xkilldash9x/droidpilot/internal/store"
)

// newRunCmd creates the `run` command, which executes a saved plan or a free
// goal on the device.
func newRunCmd(rt runtime) *cobra.Command {
	var (
		planID        string
		goal          string
		restart       bool
		vision        string
		serial        string
		provider      string
		model         string
		maxStuckTicks int
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a saved plan (--plan) or a single goal (--goal) on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()

			// Flag overrides are applied on top of file and environment values.
			flags := cmd.Flags()
			if flags.Changed("vision") {
				cfg.SetAgentVision(config.VisionMode(vision))
			}
			if flags.Changed("max-stuck-ticks") {
				cfg.SetAgentMaxStuckTicks(maxStuckTicks)
			}
			if flags.Changed("serial") {
				cfg.SetDeviceSerial(serial)
			}
			if flags.Changed("provider") {
				cfg.SetLLMProvider(config.LLMProvider(provider))
			}
			if flags.Changed("model") {
				cfg.SetLLMModel(model)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var (
				p    *plan.Plan
				repo store.Repository
			)
			if planID != "" {
				var cleanup func()
				repo, cleanup, err = rt.openStore(ctx, cfg.Store(), logger)
				if err != nil {
					return fmt.Errorf("failed to open plan store: %w", err)
				}
				defer cleanup()
				if p, err = repo.Get(ctx, planID); err != nil {
					return err
				}
				if restart {
					p.Reset()
				}
			} else {
				if p, err = plan.FromGoal(goal); err != nil {
					return err
				}
			}

			usage := llmclient.NewUsageCounter()
			gateway, err := rt.newGateway(ctx, cfg.LLM(), usage, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize model gateway: %w", err)
			}
			dev := rt.newDevice(cfg.Device(), logger)

			deps := agent.Dependencies{Source: dev, Effector: dev, Gateway: gateway}
			if cfg.Agent().Vision != config.VisionOff {
				deps.Screenshots = dev
			}
			session := agent.NewSession(cfg.Agent(), deps, logger, agent.WithUsageCounter(usage))
			if err := session.Start(ctx, p); err != nil {
				return err
			}
			logger.Info("Run started",
				zap.String("plan_id", p.ID()),
				zap.String("progress", p.Progress()),
				zap.String("vision", string(cfg.Agent().Vision)),
			)

			var outcome agent.Outcome
			g := new(errgroup.Group)
			g.Go(func() error {
				printEvents(out, session.Events())
				return nil
			})
			g.Go(func() error {
				outcome = session.Wait()
				return nil
			})
			_ = g.Wait()

			if repo != nil {
				// Progress is kept even when the run was interrupted.
				if err := repo.Save(context.WithoutCancel(ctx), p); err != nil {
					logger.Error("Failed to save plan progress", zap.String("plan_id", p.ID()), zap.Error(err))
				}
			}

			logger.Info("Run finished",
				zap.String("reason", string(outcome.Reason)),
				zap.String("progress", outcome.Progress),
				zap.Int64("total_tokens", usage.Total()),
			)
			return outcomeError(outcome)
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&planID, "plan", "p", "", "id of a saved plan to execute")
	f.StringVarP(&goal, "goal", "g", "", "free-form goal to execute as a single-step plan")
	f.BoolVar(&restart, "restart", false, "start a saved plan from its first step")
	f.StringVar(&vision, "vision", "", "vision mode: off, assist or end_to_end")
	f.StringVar(&serial, "serial", "", "adb serial of the target device")
	f.StringVar(&provider, "provider", "", "model provider: openai, gemini or ollama")
	f.StringVar(&model, "model", "", "model name for text prompts")
	f.IntVar(&maxStuckTicks, "max-stuck-ticks", 0, "abort after this many consecutive looping ticks (0 disables)")
	runCmd.MarkFlagsMutuallyExclusive("plan", "goal")
	runCmd.MarkFlagsOneRequired("plan", "goal")
	return runCmd
}

// outcomeError maps how a run ended to the command's error.
func outcomeError(o agent.Outcome) error {
	switch o.Reason {
	case agent.StopPlanCompleted, agent.StopDoneAction, agent.StopRequested:
		return nil
	case agent.StopCanceled:
		if o.Err != nil {
			return o.Err
		}
		return context.Canceled
	default:
		msg := fmt.Sprintf("run ended: %s at step %s", o.Reason, o.Progress)
		if o.Detail != "" {
			msg += ": " + o.Detail
		}
		if o.Err != nil {
			return fmt.Errorf("%s: %w", msg, o.Err)
		}
		return errors.New(msg)
	}
}
