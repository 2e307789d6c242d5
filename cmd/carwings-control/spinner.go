package main

import (
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type doneMsg struct{}

// waitModel shows a spinner until the command it accompanies finishes.
type waitModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func newWaitModel(label string) waitModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return waitModel{spinner: s, label: label}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.done = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waitModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "\n"
}

// withSpinner runs fn while rendering a spinner to out. If out is nil, fn runs without one.
func withSpinner(out io.Writer, label string, fn func() error) error {
	if out == nil {
		return fn()
	}
	program := tea.NewProgram(newWaitModel(label), tea.WithInput(nil), tea.WithOutput(out))
	result := make(chan error, 1)
	go func() {
		result <- fn()
		program.Send(doneMsg{})
	}()
	if _, err := program.Run(); err != nil {
		writeErr("Progress display failed: %s", err)
	}
	return <-result
}
