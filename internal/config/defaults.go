package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		APIKey:           "${GEMINI_API_KEY}",
		Model:            "gemini-2.5-pro",
		BaseURL:          "https://generativelanguage.googleapis.com",
		Timeout:          5 * time.Minute,
		MaxRetries:       3,
		MaxContinuations: 3,
		WrapWidth:        100,
		KeepSources:      false,
		Debug:            false,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# pdf2epub configuration
# The API key uses ${ENV_VAR} syntax to reference environment variables
# Set it in your shell: export GEMINI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
