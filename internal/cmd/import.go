package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/importer"
	"github.com/sneaker-boar/sneaker/internal/output"
)

var importCmd = &cobra.Command{
	Use:   "import <repo> <session> <dir>",
	Short: "Snapshot a directory into a repository session",
	Long: `Record the files below dir as a new snapshot of the named session.

The session is created when it does not exist. Only content the repository
does not already hold is uploaded; files removed since the previous
snapshot are removed from the new one. Files matching import.ignore or the
session's ignore list are skipped.`,
	Args: cobra.ExactArgs(3),
	RunE: runImport,
}

var (
	importDryRun bool
	importIgnore []string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVarP(&importDryRun, "dry-run", "n", false, "Show what would change without writing")
	importCmd.Flags().StringSliceVar(&importIgnore, "ignore", nil, "Additional glob patterns to skip")
}

func runImport(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	sess, err := e.manager.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := importer.Import(ctx, sess, args[1], args[2], importer.Options{
		Ignore: append(append([]string{}, e.cfg.Import.Ignore...), importIgnore...),
		DryRun: importDryRun,
		Logger: e.logger.WithSession(sess.ID()),
	})
	if err != nil {
		return err
	}
	printImport(e.printer, res)
	return nil
}

func printImport(p *output.Printer, res importer.Result) {
	if p.Format() == output.FormatJSON {
		p.Result(res)
		return
	}

	for _, f := range res.Added {
		p.Info("A %s", f)
	}
	for _, f := range res.Modified {
		p.Info("M %s", f)
	}
	for _, f := range res.Removed {
		p.Info("R %s", f)
	}

	switch {
	case res.DryRun:
		p.Warn("dry run: %d added, %d modified, %d removed (base snapshot %d)",
			len(res.Added), len(res.Modified), len(res.Removed), res.BaseID)
	case !res.Changed():
		p.Success("%s is up to date at snapshot %d", res.SessionName, res.SnapshotID)
	default:
		p.Success("Committed snapshot %d of %s: %d added, %d modified, %d removed, %d uploaded",
			res.SnapshotID, res.SessionName, len(res.Added), len(res.Modified), len(res.Removed), res.Uploaded)
	}
}
