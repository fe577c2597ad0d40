package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sneaker-boar/sneaker/internal/config"
	"github.com/sneaker-boar/sneaker/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "sneaker",
	Short: "Open, create and drive boar-style repositories",
	Long: `Sneaker opens content-addressed snapshot repositories and forwards
operations to the repository engine. Opening a location that holds no
repository offers to create one; creating never touches existing content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running commands (shell, watch, engine serve) wind down.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", userMessage(err))
	}
	return err
}

// userMessage returns the text shown for err. Repository failures whose
// message is not meant for end users point at the log instead.
func userMessage(err error) string {
	if errors.IsRepositoryError(err) && !errors.IsUserFacing(err) {
		return "the repository engine failed internally (see 'sneaker logs --level error')"
	}
	return err.Error()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/sneaker/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format (text, json)")
	rootCmd.PersistentFlags().String("engine", "", "repository engine (local, rpc)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("shell.output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("engine.kind", rootCmd.PersistentFlags().Lookup("engine"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/sneaker")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SNEAKER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., SNEAKER_ENGINE_KIND for engine.kind
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
