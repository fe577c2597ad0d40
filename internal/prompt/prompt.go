// Package prompt asks the user yes/no and free-text questions. On a terminal
// it runs a small bubbletea program; when input is piped it falls back to
// reading plain lines.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/sneaker-boar/sneaker/internal/errors"
)

// ErrCancelled is returned when the user aborts a prompt.
var ErrCancelled = errors.New("prompt cancelled")

// Prompter asks questions.
type Prompter interface {
	// Confirm asks a yes/no question. def is the answer for a bare enter.
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	// Ask asks for a non-empty line of text.
	Ask(ctx context.Context, question, placeholder string) (string, error)
}

// New returns a terminal prompter when in is a TTY and a line prompter
// otherwise.
func New(in *os.File, out io.Writer) Prompter {
	if IsTerminal(in) {
		return &Terminal{in: in, out: out}
	}
	return NewLines(in, out)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Terminal prompts with interactive bubbletea models.
type Terminal struct {
	in  io.Reader
	out io.Writer
}

func (p *Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	prog := tea.NewProgram(m,
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithContext(ctx),
	)
	final, err := prog.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run prompt: %w", err)
	}
	return final, nil
}

// Confirm implements Prompter.
func (p *Terminal) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	final, err := p.run(ctx, newConfirmModel(question, def))
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.cancelled {
		return false, ErrCancelled
	}
	return m.answer, nil
}

// Ask implements Prompter.
func (p *Terminal) Ask(ctx context.Context, question, placeholder string) (string, error) {
	final, err := p.run(ctx, newAskModel(question, placeholder))
	if err != nil {
		return "", err
	}
	m := final.(askModel)
	if m.cancelled {
		return "", ErrCancelled
	}
	return m.value, nil
}

// Lines prompts by writing the question and reading one line per answer.
type Lines struct {
	r *bufio.Reader
	w io.Writer
}

// NewLines returns a line-mode prompter.
func NewLines(r io.Reader, w io.Writer) *Lines {
	return &Lines{r: bufio.NewReader(r), w: w}
}

func (p *Lines) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrCancelled
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm implements Prompter. Unrecognized answers ask again.
func (p *Lines) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(p.w, "%s %s ", question, hint)
		line, err := p.readLine(ctx)
		if err != nil {
			return false, err
		}
		if answer, ok := parseYesNo(line, def); ok {
			return answer, nil
		}
		fmt.Fprintln(p.w, "Please answer y or n.")
	}
}

// Ask implements Prompter. Empty answers ask again.
func (p *Lines) Ask(ctx context.Context, question, placeholder string) (string, error) {
	for {
		if placeholder != "" {
			fmt.Fprintf(p.w, "%s (e.g. %s): ", question, placeholder)
		} else {
			fmt.Fprintf(p.w, "%s: ", question)
		}
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
		fmt.Fprintln(p.w, "A value is required.")
	}
}

func parseYesNo(s string, def bool) (answer bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, true
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}
