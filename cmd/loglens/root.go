package main

import (
	"github.com/spf13/cobra"

	"loglens/internal/config"
)

const version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "loglens",
	Short:   "Streaming log analytics with windowed metrics and anomaly detection",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml or json)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(anomaliesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func loadConfig() (*config.Manager, error) {
	if configPath == "" {
		return config.NewManagerFromConfig(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(configPath))
}
