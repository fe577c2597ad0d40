package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/config"
	"github.com/sneaker-boar/sneaker/internal/engine/local"
	"github.com/sneaker-boar/sneaker/internal/engine/rpc"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Repository engine commands",
}

var engineServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local engine over JSON-RPC on stdin/stdout",
	Long: `Serve the built-in repository engine as newline-delimited JSON-RPC 2.0
on standard input and output. This is what engine.kind=rpc talks to, e.g.

  engine:
    kind: rpc
    command: ["sneaker", "engine", "serve"]

Logs go to the log file, never to standard output.`,
	Args: cobra.NoArgs,
	RunE: runEngineServe,
}

var engineOpsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the operations of the local engine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		newPrinter(cmd, config.Get()).Result(local.Operations())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.AddCommand(engineServeCmd)
	engineCmd.AddCommand(engineOpsCmd)
}

func runEngineServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	eng := local.New(local.WithLogger(logger))
	defer eng.Close()

	logger.Info("engine serving on stdio")
	err = rpc.NewServer(eng, logger).Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	logger.Info("engine stopped")
	return err
}
