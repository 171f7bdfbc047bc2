package interact

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// choiceModel asks the user to pick one of a fixed set of options.
type choiceModel struct {
	title   string
	body    string
	options []string
	cursor  int
	chosen  int
	aborted bool
}

func newChoiceModel(title, body string, options []string) choiceModel {
	return choiceModel{title: title, body: body, options: options, chosen: -1}
}

func (m choiceModel) Init() tea.Cmd {
	return nil
}

func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		m.cursor--
		if m.cursor < 0 {
			m.cursor = len(m.options) - 1
		}
	case "down", "j", "tab":
		m.cursor++
		if m.cursor >= len(m.options) {
			m.cursor = 0
		}
	case "enter", " ":
		m.chosen = m.cursor
		return m, tea.Quit
	default:
		// Options can be picked by their first letter.
		for i, o := range m.options {
			if strings.HasPrefix(strings.ToLower(o), key.String()) {
				m.chosen = i
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m choiceModel) View() string {
	if m.aborted {
		return mutedStyle.Render(m.title+": dismissed") + "\n"
	}
	if m.chosen >= 0 {
		return fmt.Sprintf("%s %s\n", titleStyle.Render(m.title+":"), selectedStyle.Render(m.options[m.chosen]))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.body != "" {
		b.WriteString(bodyStyle.Render(m.body))
		b.WriteString("\n")
	}
	for i, o := range m.options {
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + o))
		} else {
			b.WriteString("  " + o)
		}
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ move • enter select • esc dismiss"))
	b.WriteString("\n")
	return b.String()
}

// inputModel asks for a line of free text. An empty submission or esc
// means the user skipped it.
type inputModel struct {
	title     string
	body      string
	input     textinput.Model
	value     string
	submitted bool
	skipped   bool
	aborted   bool
}

func newInputModel(title, body, placeholder string) inputModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 2000
	ti.Width = 72
	ti.Focus()
	return inputModel{title: title, body: body, input: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		case "esc":
			m.skipped = true
			return m, tea.Quit
		case "enter":
			m.value = strings.TrimSpace(m.input.Value())
			m.submitted = m.value != ""
			m.skipped = !m.submitted
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	switch {
	case m.aborted:
		return mutedStyle.Render(m.title+": dismissed") + "\n"
	case m.skipped:
		return mutedStyle.Render(m.title+": skipped") + "\n"
	case m.submitted:
		return fmt.Sprintf("%s %s\n", titleStyle.Render(m.title+":"), m.value)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.body != "" {
		b.WriteString(bodyStyle.Render(m.body))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("enter submit • esc skip • ctrl+c dismiss"))
	b.WriteString("\n")
	return b.String()
}
