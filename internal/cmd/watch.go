package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/importer"
	"github.com/sneaker-boar/sneaker/internal/session"
	"github.com/sneaker-boar/sneaker/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <repo> <session> <dir>",
	Short: "Re-import a directory whenever it changes",
	Long: `Import dir into the named session, then keep watching it and import
again after every burst of changes. Bursts are debounced by
watch.debounce_ms. Stop with Ctrl+C.`,
	Args: cobra.ExactArgs(3),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	repoPath, sessionName, dir := args[0], args[1], args[2]

	sess, err := e.manager.Open(ctx, repoPath)
	if err != nil {
		return err
	}
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	ignore, err := importer.CompileIgnore(e.cfg.Import.Ignore)
	if err != nil {
		return err
	}
	w, err := watch.New(dir,
		watch.WithDebounce(e.cfg.Watch.Debounce()),
		watch.WithLogger(e.logger),
		watch.WithIgnore(func(rel string, isDir bool) bool {
			if isDir {
				return ignore.MatchDir(rel)
			}
			return ignore.Match(rel)
		}),
	)
	if err != nil {
		return err
	}

	runOnce := func() {
		res, err := importer.Import(ctx, sess, sessionName, dir, importer.Options{
			Ignore: e.cfg.Import.Ignore,
			Logger: e.logger.WithSession(sess.ID()),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.reportError(err)
			if stopWatching(err) {
				sess.Close()
				sess = nil
				return
			}
			// A failed import may leave a snapshot pending on the handle.
			// Reopening discards it.
			sess = reopen(ctx, e, sess)
			return
		}
		printImport(e.printer, res)
	}

	runOnce()
	if sess == nil {
		return nil
	}

	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()
	e.printer.Info("Watching %s (Ctrl+C to stop)", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Batches():
			if !ok {
				return nil
			}
			e.logger.Debug("change batch", "paths", strings.Join(batch.Paths, ","))
			runOnce()
			if sess == nil {
				return nil
			}
		}
	}
}

// stopWatching reports whether an import failure will repeat on every
// batch, such as the source directory having gone away.
func stopWatching(err error) bool {
	return errors.Is(err, errors.ErrInvalidInput) || errors.Is(err, errors.ErrCanceled)
}

// reopen closes sess and opens its repository again. It returns nil when
// the repository can no longer be opened.
func reopen(ctx context.Context, e *env, sess *session.Session) *session.Session {
	path := sess.Path()
	sess.Close()
	next, err := e.manager.Open(ctx, path)
	if err != nil {
		e.reportError(err)
		return nil
	}
	return next
}
