package prompt

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// confirmModel is a single-key yes/no question.
type confirmModel struct {
	question  string
	def       bool
	answer    bool
	done      bool
	cancelled bool
}

func newConfirmModel(question string, def bool) confirmModel {
	return confirmModel{question: question, def: def}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "y", "Y":
		m.answer, m.done = true, true
	case "n", "N":
		m.answer, m.done = false, true
	case "enter":
		m.answer, m.done = m.def, true
	case "esc", "ctrl+c":
		m.cancelled, m.done = true, true
	default:
		return m, nil
	}
	return m, tea.Quit
}

func (m confirmModel) View() string {
	hint := "y/N"
	if m.def {
		hint = "Y/n"
	}
	if m.done {
		if m.cancelled {
			return questionStyle.Render(m.question) + " " + hintStyle.Render("cancelled") + "\n"
		}
		answer := "no"
		if m.answer {
			answer = "yes"
		}
		return questionStyle.Render(m.question) + " " + answer + "\n"
	}
	return questionStyle.Render(m.question) + " " + hintStyle.Render("["+hint+"]") + " "
}

// askModel reads one non-empty line of text.
type askModel struct {
	question  string
	input     textinput.Model
	value     string
	errorMsg  string
	done      bool
	cancelled bool
}

func newAskModel(question, placeholder string) askModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 255
	ti.Width = 40
	return askModel{question: question, input: ti}
}

func (m askModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		m.errorMsg = ""
		switch key.String() {
		case "esc", "ctrl+c":
			m.cancelled, m.done = true, true
			return m, tea.Quit
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if value == "" {
				m.errorMsg = "A value is required."
				return m, nil
			}
			m.value, m.done = value, true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m askModel) View() string {
	if m.done {
		if m.cancelled {
			return questionStyle.Render(m.question) + " " + hintStyle.Render("cancelled") + "\n"
		}
		return questionStyle.Render(m.question) + " " + m.value + "\n"
	}

	var b strings.Builder
	b.WriteString(questionStyle.Render(m.question))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.errorMsg != "" {
		b.WriteString(errorStyle.Render(m.errorMsg))
		b.WriteString("\n")
	}
	b.WriteString(hintStyle.Render("enter to accept, esc to cancel"))
	return b.String()
}
