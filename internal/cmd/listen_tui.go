package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/singleinstance/internal/util"
)

// maxShown bounds how many invocations the listener view keeps.
const maxShown = 15

// invokedMsg carries one forwarded argument vector into the program.
type invokedMsg struct {
	args []string
	at   time.Time
}

type invocation struct {
	n    int
	args []string
	at   time.Time
}

// listenModel is the bubbletea model behind "run --tui".
type listenModel struct {
	name     string
	spinner  spinner.Model
	received []invocation
	total    int
	width    int
	quitting bool
}

func newListenModel(name string) listenModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = successStyle
	return listenModel{name: name, spinner: s}
}

func (m listenModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m listenModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case invokedMsg:
		m.total++
		m.received = append(m.received, invocation{n: m.total, args: msg.args, at: msg.at})
		if len(m.received) > maxShown {
			m.received = m.received[len(m.received)-maxShown:]
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m listenModel) View() string {
	if m.quitting {
		return mutedStyle.Render("stopping") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), titleStyle.Render("First instance of "+m.name))

	if len(m.received) == 0 {
		b.WriteString(mutedStyle.Render("waiting for other instances...") + "\n")
	}
	for _, inv := range m.received {
		fmt.Fprintf(&b, "%s %s %s\n",
			indexStyle.Render(fmt.Sprintf("#%d", inv.n)),
			mutedStyle.Render(inv.at.Format("15:04:05")),
			formatArgs(inv.args))
	}

	b.WriteString("\n" + mutedStyle.Render("q to quit") + "\n")
	return util.FitLines(b.String(), m.width)
}
