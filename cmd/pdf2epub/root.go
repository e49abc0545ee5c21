package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JaapHaitsma/pdf2epub/internal/config"
	"github.com/JaapHaitsma/pdf2epub/version"
)

var (
	cfgFile string
	cfgMgr  *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "pdf2epub",
	Short: "Convert a PDF book into an EPUB using Google Gemini",
	Long: `pdf2epub uploads a PDF to Google Gemini and rebuilds it as an EPUB.

The pipeline includes:
  - Section-by-section content extraction in reading order
  - Figure extraction from page renders with decorative-image filtering
  - Bibliographic metadata lookup with graceful defaults
  - EPUB2-compatible packaging (NCX, OPF guide, stored mimetype)`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pdf2epub/config.yaml)",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfgMgr, err = config.NewManager(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := new(slog.LevelVar)
		if cfgMgr.Get().Debug {
			level.Set(slog.LevelDebug)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))

		// Config edits during a long conversion take effect on the fly;
		// currently that means the log level.
		cfgMgr.OnChange(func(cfg *config.Config) {
			if cfg.Debug {
				level.Set(slog.LevelDebug)
			} else {
				level.Set(slog.LevelInfo)
			}
			slog.Info("configuration reloaded", "debug", cfg.Debug)
		})
		cfgMgr.WatchConfig()
		return nil
	}

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
