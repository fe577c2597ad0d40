package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/catalog"
	"github.com/sneaker-boar/sneaker/internal/config"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/output"
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently opened repositories",
	Long: `List the repositories opened most recently, newest first.

The list is kept in a small sqlite database under the data directory
(catalog.path) and can be turned off with catalog.enabled.`,
	Args: cobra.NoArgs,
	RunE: runRecent,
}

var recentForgetCmd = &cobra.Command{
	Use:   "forget <path>",
	Short: "Remove a repository from the recent list",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecentForget,
}

var recentLimit int

func init() {
	rootCmd.AddCommand(recentCmd)
	recentCmd.AddCommand(recentForgetCmd)

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", -1, "Number of entries to show (0 for all, default catalog.limit)")
}

// withCatalog opens the configured catalog for commands that only need it.
func withCatalog(fn func(cfg *config.Config, cat *catalog.Catalog) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Catalog.Enabled {
		return fmt.Errorf("the recent list is disabled (catalog.enabled is false)")
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to open catalog")
	}
	defer cat.Close()
	return fn(cfg, cat)
}

func runRecent(cmd *cobra.Command, args []string) error {
	return withCatalog(func(cfg *config.Config, cat *catalog.Catalog) error {
		limit := recentLimit
		if limit < 0 {
			limit = cfg.Catalog.Limit
		}
		entries, err := cat.List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		p := newPrinter(cmd, cfg)
		if p.Format() == output.FormatJSON {
			p.Result(entries)
			return nil
		}
		if len(entries) == 0 {
			p.Info("No repositories opened yet.")
			return nil
		}

		rows := [][]string{{"PATH", "OPENS", "LAST OPENED"}}
		for _, entry := range entries {
			rows = append(rows, []string{
				entry.Path,
				strconv.Itoa(entry.OpenCount),
				entry.LastOpenedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		p.Lines(output.Columns(rows))
		return nil
	})
}

func runRecentForget(cmd *cobra.Command, args []string) error {
	return withCatalog(func(cfg *config.Config, cat *catalog.Catalog) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := cat.Forget(cmd.Context(), filepath.Clean(path)); err != nil {
			return err
		}
		newPrinter(cmd, cfg).Success("Forgot %s", path)
		return nil
	})
}
