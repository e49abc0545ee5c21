package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all tunables for a conversion run. Every field can be set in
// config.yaml, through a PDF2EPUB_-prefixed environment variable, or by a
// CLI flag.
type Config struct {
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	Model            string        `mapstructure:"model" yaml:"model"`
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxContinuations int           `mapstructure:"max_continuations" yaml:"max_continuations"`
	WrapWidth        int           `mapstructure:"wrap_width" yaml:"wrap_width"`
	KeepSources      bool          `mapstructure:"keep_sources" yaml:"keep_sources"`
	Debug            bool          `mapstructure:"debug" yaml:"debug"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("api_key", defaults.APIKey)
	viper.SetDefault("model", defaults.Model)
	viper.SetDefault("base_url", defaults.BaseURL)
	viper.SetDefault("timeout", defaults.Timeout)
	viper.SetDefault("max_retries", defaults.MaxRetries)
	viper.SetDefault("max_continuations", defaults.MaxContinuations)
	viper.SetDefault("wrap_width", defaults.WrapWidth)
	viper.SetDefault("keep_sources", defaults.KeepSources)
	viper.SetDefault("debug", defaults.Debug)

	// Environment variables with PDF2EPUB_ prefix
	viper.SetEnvPrefix("PDF2EPUB")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.pdf2epub")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cm.reload()
	})
	viper.WatchConfig()
}

// reload re-parses the current viper state and notifies callbacks. A parse
// failure keeps the previous config.
func (cm *Manager) reload() {
	cfg, err := cm.load()
	if err != nil {
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ResolvedAPIKey returns the API key with ${ENV_VAR} references expanded,
// falling back to GEMINI_API_KEY when unset.
func (c *Config) ResolvedAPIKey() string {
	key := ResolveEnvVars(c.APIKey)
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	return key
}
