package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JaapHaitsma/pdf2epub/internal/gemini"
	"github.com/JaapHaitsma/pdf2epub/internal/pdf"
	"github.com/JaapHaitsma/pdf2epub/internal/pipeline"
	"github.com/JaapHaitsma/pdf2epub/internal/uploadcache"
)

var (
	outputPath  string
	coverPath   string
	keepSources bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <input.pdf>",
	Short: "Convert a PDF to an EPUB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cfgMgr.Get()
		input := args[0]

		out := outputPath
		if out == "" {
			out = strings.TrimSuffix(input, filepath.Ext(input)) + ".epub"
		}

		apiKey := cfg.ResolvedAPIKey()
		if apiKey == "" {
			return fmt.Errorf("no API key configured: set api_key in config.yaml or export GEMINI_API_KEY")
		}

		uploads, err := uploadcache.NewFileStore("")
		if err != nil {
			slog.Warn("upload cache unavailable, uploads will not be reused", "error", err)
		}

		gcfg := gemini.Config{
			APIKey:           apiKey,
			Model:            cfg.Model,
			BaseURL:          cfg.BaseURL,
			Timeout:          cfg.Timeout,
			MaxRetries:       cfg.MaxRetries,
			MaxContinuations: cfg.MaxContinuations,
			Logger:           slog.Default(),
		}
		if uploads != nil {
			gcfg.Uploads = uploads
		}
		if cfg.Debug {
			gcfg.DebugDir = filepath.Dir(out)
			gcfg.DebugStem = pdf.Stem(out)
		}

		cv := pipeline.New(gemini.NewClient(gcfg), slog.Default())
		if err := cv.Convert(cmd.Context(), pipeline.Options{
			Input:       input,
			Output:      out,
			CoverPath:   coverPath,
			KeepSources: keepSources || cfg.KeepSources,
			WrapWidth:   cfg.WrapWidth,
		}); err != nil {
			return err
		}

		fmt.Printf("Wrote %s\n", out)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output .epub path (default: input name with .epub)")
	convertCmd.Flags().StringVar(&coverPath, "cover", "", "cover image file (default: derived from the first page)")
	convertCmd.Flags().BoolVar(&keepSources, "keep-sources", false, "keep the unpacked EPUB files on disk")
}
