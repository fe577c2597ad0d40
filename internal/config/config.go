package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sneaker configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Shell   ShellConfig   `mapstructure:"shell" yaml:"shell"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
	Import  ImportConfig  `mapstructure:"import" yaml:"import"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
}

// EngineConfig selects the repository engine
type EngineConfig struct {
	// Kind is "local" (in-process) or "rpc" (a child process speaking
	// JSON-RPC on stdin/stdout)
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Command is the argv used to start an rpc engine
	Command []string `mapstructure:"command" yaml:"command"`
}

// ShellConfig controls the interactive commands
type ShellConfig struct {
	// PromptCreate offers to create a repository when opening a path that
	// is not one
	PromptCreate bool `mapstructure:"prompt_create" yaml:"prompt_create"`
	// Output is "text" or "json"
	Output string `mapstructure:"output" yaml:"output"`
}

// CatalogConfig controls the list of recently opened repositories
type CatalogConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path of the sqlite database. Empty means <data dir>/catalog.db
	Path string `mapstructure:"path" yaml:"path"`
	// Limit is the default number of entries shown by "recent"
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// ImportConfig controls directory imports
type ImportConfig struct {
	// Ignore holds glob patterns skipped during import
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`
}

// WatchConfig controls the watch command
type WatchConfig struct {
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// Debounce returns the debounce window as a Duration
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is how many rotated files are kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// PathsConfig controls where sneaker keeps its own files
type PathsConfig struct {
	// DataDir overrides the data directory holding logs and the catalog
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// ResolveDataDir returns the configured data directory or the platform
// default, expanding a leading "~".
func (p *PathsConfig) ResolveDataDir() (string, error) {
	if p.DataDir == "" {
		return DefaultDataDir()
	}
	if p.DataDir == "~" || strings.HasPrefix(p.DataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p.DataDir, "~")), nil
	}
	return p.DataDir, nil
}

// CatalogPath returns the catalog database path.
func (c *Config) CatalogPath() (string, error) {
	if c.Catalog.Path != "" {
		return c.Catalog.Path, nil
	}
	dir, err := c.Paths.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// LogDir returns the directory holding sneaker.log.
func (c *Config) LogDir() (string, error) {
	dir, err := c.Paths.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Kind:    EngineLocal,
			Command: []string{},
		},
		Shell: ShellConfig{
			PromptCreate: true,
			Output:       "text",
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    "", // Empty means <data dir>/catalog.db
			Limit:   20,
		},
		Import: ImportConfig{
			Ignore: []string{".git/**", "*.tmp"},
		},
		Watch: WatchConfig{
			DebounceMs: 200,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Paths: PathsConfig{
			DataDir: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Engine defaults
	viper.SetDefault("engine.kind", defaults.Engine.Kind)
	viper.SetDefault("engine.command", defaults.Engine.Command)

	// Shell defaults
	viper.SetDefault("shell.prompt_create", defaults.Shell.PromptCreate)
	viper.SetDefault("shell.output", defaults.Shell.Output)

	// Catalog defaults
	viper.SetDefault("catalog.enabled", defaults.Catalog.Enabled)
	viper.SetDefault("catalog.path", defaults.Catalog.Path)
	viper.SetDefault("catalog.limit", defaults.Catalog.Limit)

	// Import and watch defaults
	viper.SetDefault("import.ignore", defaults.Import.Ignore)
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sneaker")
	}
	// Fall back to ~/.config/sneaker
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sneaker"
	}
	return filepath.Join(home, ".config", "sneaker")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultDataDir returns the platform data directory:
// $XDG_DATA_HOME/sneaker or ~/.local/share/sneaker on Linux,
// ~/Library/Application Support/sneaker on macOS and %APPDATA%\sneaker on
// Windows. The directory is not created.
func DefaultDataDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "sneaker"), nil
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			var err error
			base, err = os.UserConfigDir()
			if err != nil {
				return "", fmt.Errorf("resolve config directory: %w", err)
			}
		}
		return filepath.Join(base, "sneaker"), nil
	default:
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			base = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(base, "sneaker"), nil
	}
}

// Engine kinds
const (
	EngineLocal = "local"
	EngineRPC   = "rpc"
)

// ValidEngineKinds returns the list of valid engine kinds
func ValidEngineKinds() []string {
	return []string{EngineLocal, EngineRPC}
}
