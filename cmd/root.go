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

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
)

// EnvPrefix prefixes every environment variable that overrides configuration.
const EnvPrefix = "A11Y"

type configKey struct{}

// NewRootCommand builds a fresh command tree with its own viper instance, so
// flags and configuration never leak between executions.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory(), NewStoreProvider())
}

func newRootCommand(factory service.ComponentFactory, provider storeProvider) *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "a11yscan",
		Short:         "a11yscan audits web pages for accessibility issues.",
		Long:          "a11yscan renders a page in headless Chromium, audits it with axe-core and\nreturns either a static snapshot with located issues or an annotated copy of the page.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "a11yscan version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error). (Overrides config/env)")
	_ = v.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newScanCmd(v, factory),
		newServeCmd(v, factory),
		newAnnotateCmd(factory),
		newReportCmd(provider),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted by signal")
			return err
		}
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads the config file, when present, and A11Y_* environment
// variables over the built-in defaults.
func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	config.SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if ctx != nil {
		if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
			return cfg, nil
		}
	}
	return nil, errors.New("configuration not loaded")
}
