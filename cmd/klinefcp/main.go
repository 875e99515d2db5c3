package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terrylica/kline-fcp/internal/config"
	"github.com/terrylica/kline-fcp/internal/logging"
)

const (
	appName = "klinefcp"
	version = "v0.1.0"
)

func main() {
	logging.Init(zerolog.InfoLevel)

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Unified, deduplicated historical kline retrieval (cache -> vision -> REST)",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (optional)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("klinefcp: command failed")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
