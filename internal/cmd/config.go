package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sneaker-boar/sneaker/internal/config"
	"github.com/sneaker-boar/sneaker/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify sneaker configuration",
	Long: `View or modify sneaker configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  sneaker config set engine.kind rpc
  sneaker config set catalog.limit 50
  sneaker config set import.ignore '.git/**,*.tmp,*.swp'

Valid keys:
  engine.kind           - local or rpc
  engine.command        - Comma-separated argv of an rpc engine
  shell.prompt_create   - Offer to create missing repositories (true/false)
  shell.output          - text or json
  catalog.enabled       - Remember opened repositories (true/false)
  catalog.path          - Catalog database path
  catalog.limit         - Entries shown by "recent"
  import.ignore         - Comma-separated glob patterns
  watch.debounce_ms     - Quiet period before re-importing
  logging.enabled       - Write the log file (true/false)
  logging.level         - debug, info, warn or error
  logging.max_size_mb   - Rotate the log file at this size
  logging.max_backups   - Rotated log files to keep
  logging.compress      - Gzip rotated log files (true/false)
  paths.data_dir        - Directory for logs and the catalog`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/sneaker/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys maps settable keys to their value type.
var configKeys = map[string]string{
	"engine.kind":         "string",
	"engine.command":      "list",
	"shell.prompt_create": "bool",
	"shell.output":        "string",
	"catalog.enabled":     "bool",
	"catalog.path":        "string",
	"catalog.limit":       "int",
	"import.ignore":       "list",
	"watch.debounce_ms":   "int",
	"logging.enabled":     "bool",
	"logging.level":       "string",
	"logging.max_size_mb": "int",
	"logging.max_backups": "int",
	"logging.compress":    "bool",
	"paths.data_dir":      "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func parseConfigValue(key, value string) (any, error) {
	keyType, ok := configKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'sneaker config set --help' to see valid keys", key)
	}

	switch keyType {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return intVal, nil
	case "list":
		items := []string{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Validate the whole config with the new value before writing it
	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const configHeader = `# sneaker configuration
#
# engine.kind: local runs the repository engine in-process; rpc starts
#   engine.command and speaks JSON-RPC 2.0 with it over stdin/stdout.
# shell.prompt_create: offer to create a repository when opening a
#   location that holds none.
# import.ignore: glob patterns skipped by import and watch.
# paths.data_dir: where logs and the recent-repositories catalog live
#   (empty means the platform data directory).

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return errors.NewAlreadyExistsError("config file", configFile).
			WithCause(errors.New("use 'sneaker config set' to modify values"))
	}

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return errors.Wrap(err, "failed to render config")
	}
	if err := os.WriteFile(configFile, append([]byte(configHeader), data...), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", configFile)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize sneaker's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/sneaker/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: SNEAKER_* (e.g., SNEAKER_ENGINE_KIND)")

	if dir, err := config.Get().Paths.ResolveDataDir(); err == nil {
		fmt.Fprintf(out, "\nData directory: %s\n", dir)
	}
	return nil
}
