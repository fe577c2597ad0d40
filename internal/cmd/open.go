package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/output"
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Open a repository",
	Long: `Open the repository at path and report its snapshots.

When the location holds no repository you are offered to create one. An
empty or missing location gets the repository itself; a directory with
other content gets a new repository nested inside it, named by --name or
by answering the prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var (
	openNoCreate bool
	openName     string
	openYes      bool
)

func init() {
	rootCmd.AddCommand(openCmd)

	openCmd.Flags().BoolVar(&openNoCreate, "no-create", false, "Fail instead of offering to create a repository")
	openCmd.Flags().StringVar(&openName, "name", "", "Name of a nested repository to create")
	openCmd.Flags().BoolVarP(&openYes, "yes", "y", false, "Create without asking")
}

func runOpen(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	allowCreate := e.cfg.Shell.PromptCreate && !openNoCreate
	sess, err := e.resolve(ctx, args[0], allowCreate, openName, openYes)
	if err != nil {
		return err
	}
	if sess == nil {
		e.printer.Info("Nothing opened.")
		return nil
	}
	defer sess.Close()

	ids, err := sess.Invoke(ctx, "get_session_ids")
	if err != nil {
		return err
	}
	if e.printer.Format() == output.FormatJSON {
		e.printer.Result(map[string]any{
			"path":         sess.Path(),
			"session_id":   sess.ID(),
			"snapshot_ids": ids,
		})
		return nil
	}
	e.printer.Success("Opened %s", sess.Path())
	e.printer.Info("snapshots: %v", ids)
	return nil
}
