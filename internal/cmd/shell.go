package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sneaker-boar/sneaker/internal/engine/local"
	"github.com/sneaker-boar/sneaker/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell <path>",
	Short: "Run repository operations interactively",
	Long: `Open the repository at path and read operations line by line.

Each line is an operation name followed by its arguments, parsed like the
arguments of "invoke". Words may be quoted with single or double quotes.

Built-in commands:
  help      Show this help
  ops       List the operations of the local engine
  info      Show the open repository
  quit      Leave the shell (also exit or end of input)`,
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

var (
	shellNoCreate bool
	shellName     string
	shellYes      bool
)

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().BoolVar(&shellNoCreate, "no-create", false, "Fail instead of offering to create a repository")
	shellCmd.Flags().StringVar(&shellName, "name", "", "Name of a nested repository to create")
	shellCmd.Flags().BoolVarP(&shellYes, "yes", "y", false, "Create without asking")
}

func runShell(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	sess, err := e.resolve(ctx, args[0], e.cfg.Shell.PromptCreate && !shellNoCreate, shellName, shellYes)
	if err != nil {
		return err
	}
	if sess == nil {
		e.printer.Info("Nothing opened.")
		return nil
	}
	defer sess.Close()

	e.printer.Success("Opened %s (type help for commands)", sess.Path())
	return shellLoop(cmd, e, sess)
}

func shellLoop(cmd *cobra.Command, e *env, sess *session.Session) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "sneaker> ")

		line, err := e.in.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		atEOF := err == io.EOF

		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			if quit := runShellLine(cmd, e, sess, line); quit {
				return nil
			}
		}
		if atEOF {
			fmt.Fprintln(out)
			return nil
		}
	}
}

// runShellLine executes one line and reports whether the shell should exit.
func runShellLine(cmd *cobra.Command, e *env, sess *session.Session, line string) bool {
	words, err := splitWords(line)
	if err != nil {
		e.reportError(err)
		return false
	}

	switch words[0] {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(cmd.OutOrStdout(), cmd.Long)
		return false
	case "ops":
		e.printer.Result(local.Operations())
		return false
	case "info":
		e.printer.Result(map[string]any{
			"path":       sess.Path(),
			"session_id": sess.ID(),
			"opened_at":  sess.OpenedAt().Format("2006-01-02 15:04:05"),
		})
		return false
	}

	result, err := sess.Invoke(cmd.Context(), words[0], parseArgs(words[1:])...)
	if err != nil {
		e.reportError(err)
		return false
	}
	e.printer.Result(result)
	return false
}

// splitWords splits a line on whitespace, honoring single and double quotes
// and backslash escapes outside single quotes.
func splitWords(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inWord {
		words = append(words, current.String())
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return words, nil
}
