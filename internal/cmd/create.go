package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/output"
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a repository",
	Long: `Create a new repository at path and open it.

The path must not exist or be an empty directory. Existing content is
never modified; use "open" on a populated directory to create a repository
nested inside it.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.manager.Create(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	if e.printer.Format() == output.FormatJSON {
		e.printer.Result(map[string]any{"path": sess.Path(), "session_id": sess.ID()})
		return nil
	}
	e.printer.Success("Created repository at %s", sess.Path())
	return nil
}
