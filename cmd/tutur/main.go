package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/tutur/pkg/tutur"
)

var rootCmd = &cobra.Command{
	Use:           "tutur",
	Short:         "Speech recognition and synthesis sessions from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log_level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("recognizer", "", "Override vendors.recognition.provider")
	rootCmd.PersistentFlags().String("synthesizer", "", "Override vendors.synthesis.provider")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(serveTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
// Logs go to stderr so audio and transcripts can use stdout.
func loadConfig(cmd *cobra.Command) (tutur.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := tutur.LoadConfig(path)
	if err != nil {
		return tutur.Config{}, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("recognizer"); v != "" && v != cfg.Vendors.Recognition.Provider {
		cfg.Vendors.Recognition = tutur.VendorConfig{Provider: v}
	}
	if v, _ := cmd.Flags().GetString("synthesizer"); v != "" && v != cfg.Vendors.Synthesis.Provider {
		cfg.Vendors.Synthesis = tutur.VendorConfig{Provider: v}
	}
	logger := tutur.NewLoggerFromConfig(cfg, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
