package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sneaker-boar/sneaker/internal/catalog"
	"github.com/sneaker-boar/sneaker/internal/config"
	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/engine/local"
	"github.com/sneaker-boar/sneaker/internal/engine/rpc"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
	"github.com/sneaker-boar/sneaker/internal/output"
	"github.com/sneaker-boar/sneaker/internal/prompt"
	"github.com/sneaker-boar/sneaker/internal/session"
)

// env bundles what a command needs to talk to repositories. Build it with
// newEnv and release it with Close.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	engine   engine.Engine
	manager  *session.Manager
	catalog  *catalog.Catalog
	printer  *output.Printer
	prompter prompt.Prompter
	// in is the buffered command input shared by prompts and the shell.
	in *bufio.Reader
}

// promptFactory builds the prompter for a command: interactive on a
// terminal, line based on in otherwise.
var promptFactory = func(cmd *cobra.Command, in *bufio.Reader) prompt.Prompter {
	if f, ok := cmd.InOrStdin().(*os.File); ok && prompt.IsTerminal(f) {
		return prompt.New(f, cmd.OutOrStdout())
	}
	return prompt.NewLines(in, cmd.OutOrStdout())
}

// newLogger builds the file logger described by cfg.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logDir, err := cfg.LogDir()
	if err != nil {
		return nil, err
	}
	return logging.NewLoggerWithRotation(logDir, logging.ParseLevel(cfg.Logging.Level), logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// newEngine starts the configured engine.
func newEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case config.EngineRPC:
		eng, err := rpc.Start(ctx, cfg.Engine.Command, rpc.WithLogger(logger), rpc.WithStderr(os.Stderr))
		if err != nil {
			return nil, errors.Wrap(err, "failed to start engine")
		}
		return eng, nil
	default:
		return local.New(local.WithLogger(logger)), nil
	}
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	eng, err := newEngine(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	e := &env{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		printer:  newPrinter(cmd, cfg),
		prompter: promptFactory(cmd, in),
		in:       in,
	}

	opts := []session.Option{session.WithLogger(logger)}
	if cfg.Catalog.Enabled {
		if cat, err := openCatalog(cfg); err != nil {
			// The catalog is a convenience; commands work without it.
			logger.Warn("catalog unavailable", "error", err.Error())
		} else {
			e.catalog = cat
			opts = append(opts, session.WithRecorder(cat))
		}
	}
	e.manager = session.NewManager(eng, opts...)

	return e, nil
}

func openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	path, err := cfg.CatalogPath()
	if err != nil {
		return nil, err
	}
	return catalog.Open(path)
}

func newPrinter(cmd *cobra.Command, cfg *config.Config) *output.Printer {
	out := cmd.OutOrStdout()
	p := output.New(out, output.Format(cfg.Shell.Output))
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.WithWidth(width)
		}
	}
	return p
}

// reportError prints err for the user and logs it.
func (e *env) reportError(err error) {
	e.logger.Warn("command failed", "error", err.Error())
	e.printer.Error(errors.New(userMessage(err)))
}

// Close releases the engine, catalog and log file.
func (e *env) Close() error {
	var first error
	if err := e.engine.Close(); err != nil {
		first = err
	}
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.logger.Close()
	return first
}

// resolve opens path, offering to create a repository when the location
// holds none and prompting is allowed. It returns a nil session and nil
// error when the user declines.
func (e *env) resolve(ctx context.Context, path string, allowCreate bool, nestedName string, assumeYes bool) (*session.Session, error) {
	outcome, err := e.manager.Resolve(ctx, path, allowCreate)
	if err != nil {
		return nil, err
	}
	if outcome.Opened() {
		return outcome.Session, nil
	}

	offer := *outcome.Offer
	nested, err := needsNestedName(offer.Path)
	if err != nil {
		return nil, err
	}

	if !assumeYes {
		question := fmt.Sprintf("No repository at %s. Create one?", offer.Path)
		if nested {
			question = fmt.Sprintf("%s is not a repository. Create a new repository inside it?", offer.Path)
		}
		ok, err := e.prompter.Confirm(ctx, question, true)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.logger.Info("create declined", "path", offer.Path)
			return nil, nil
		}
	}

	name := nestedName
	if nested && name == "" {
		if name, err = e.prompter.Ask(ctx, "Name of the new repository", "repo"); err != nil {
			return nil, err
		}
	}

	sess, err := e.manager.AcceptOffer(ctx, offer, name)
	if err != nil {
		return nil, err
	}
	e.printer.Success("Created repository at %s", sess.Path())
	return sess, nil
}

// needsNestedName reports whether path holds content, in which case a new
// repository can only be created below it.
func needsNestedName(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is a file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err == io.EOF {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
