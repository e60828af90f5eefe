// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/store"
)

type contextKey string

const configKey contextKey = "config"

// deviceClient is everything a run needs from the handset.
type deviceClient interface {
	agent.UIStateSource
	agent.Effector
	agent.ScreenshotSource
}

// runtime builds the external collaborators of a command. Tests swap it out.
type runtime struct {
	newGateway func(ctx context.Context, cfg config.LLMConfig, usage *llmclient.UsageCounter, logger *zap.Logger) (llmclient.Gateway, error)
	openStore  func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Repository, func(), error)
	newDevice  func(cfg config.DeviceConfig, logger *zap.Logger) deviceClient
}

func defaultRuntime() runtime {
	return runtime{
		newGateway: func(ctx context.Context, cfg config.LLMConfig, usage *llmclient.UsageCounter, logger *zap.Logger) (llmclient.Gateway, error) {
			return llmclient.NewGateway(ctx, cfg, usage, logger)
		},
		openStore: store.Open,
		newDevice: func(cfg config.DeviceConfig, logger *zap.Logger) deviceClient {
			return device.NewADB(cfg, logger)
		},
	}
}

// NewRootCommand returns a fresh command tree wired to the real device,
// model providers and plan store.
func NewRootCommand() *cobra.Command {
	return newRootCmd(defaultRuntime())
}

// Execute builds the command tree and runs it with the signal-aware context
// from main.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func newRootCmd(rt runtime) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "droidpilot",
		Short:         "droidpilot drives an Android phone through a language model to carry out tasks.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droidpilot"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting droidpilot", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./droidpilot.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newPlanCmd(rt),
		newRefineCmd(rt),
		newRunCmd(rt),
		newPlansCmd(rt),
		newVersionCmd(),
	)
	return rootCmd
}

// initializeConfig reads the config file and environment into v and binds
// the persistent flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("droidpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DROIDPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		if err := v.BindPFlag("logger.level", f); err != nil {
			return err
		}
	}
	return nil
}

// getConfigFromContext returns the configuration loaded by the root command.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
