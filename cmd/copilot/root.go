package main

import (
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/copilot/config"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "copilot",
		Short:         "Personal finance copilot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// setup loads the configuration named by the persistent flags and builds the app.
// The caller must Close the returned app.
func setup(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	a.serveMetrics(cfg.Metrics.Addr)
	return a, nil
}
