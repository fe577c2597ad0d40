package cmd

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <path> <operation> [args...]",
	Short: "Run one repository operation",
	Long: `Open the repository at path, run a single operation and print its result.

Arguments are parsed as JSON when they are valid JSON and passed as plain
strings otherwise, so numbers, objects and lists can be given directly:

  sneaker invoke ./repo mksession docs
  sneaker invoke ./repo create_session docs 1
  sneaker invoke ./repo add '{"filename":"a.txt","md5sum":"...","size":3}'
  sneaker invoke ./repo get_session_ids`,
	Args: cobra.MinimumNArgs(2),
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)
}

func runInvoke(cmd *cobra.Command, args []string) error {
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

	result, err := sess.Invoke(ctx, args[1], parseArgs(args[2:])...)
	if err != nil {
		return err
	}
	e.printer.Result(result)
	return nil
}

// parseArgs converts command-line words to operation arguments. Valid JSON
// becomes the decoded value (numbers as json.Number so large ids survive);
// anything else stays a string.
func parseArgs(words []string) []any {
	args := make([]any, 0, len(words))
	for _, w := range words {
		args = append(args, parseArg(w))
	}
	return args
}

func parseArg(word string) any {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return word
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return word
	}
	return v
}
