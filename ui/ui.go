// Package ui renders a live per-target status view while a build runs. It is
// opt-in; the default output is plain prefixed lines.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/docforge-build/docforge/executor"
)

var (
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	builtStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
)

type model struct {
	board         *executor.StatusBoard
	viewport      viewport.Model
	logView       viewport.Model
	selectedIdx   int
	showingLogs   bool
	logAutoscroll bool
	done          bool
}

func newModel(board *executor.StatusBoard) *model {
	return &model{
		board:         board,
		viewport:      viewport.New(120, 30),
		logView:       viewport.New(120, 15),
		logAutoscroll: true,
	}
}

type tickMsg time.Time

type buildDoneMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) Init() tea.Cmd {
	return tickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			if m.showingLogs {
				m.logAutoscroll = false
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			} else if n := len(m.board.Snapshot()); n > 0 {
				m.selectedIdx = (m.selectedIdx - 1 + n) % n
			}
		case "down", "j":
			if m.showingLogs {
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			} else if n := len(m.board.Snapshot()); n > 0 {
				m.selectedIdx = (m.selectedIdx + 1) % n
			}
		case "enter", " ":
			m.showingLogs = !m.showingLogs
			m.logAutoscroll = true
		case "esc":
			m.showingLogs = false
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		m.logView.Width = msg.Width
		m.logView.Height = msg.Height / 2
	case buildDoneMsg:
		m.done = true
		return m, tea.Quit
	case tickMsg:
		if !m.done {
			cmds = append(cmds, tickCmd())
		}
	}

	m.viewport.SetContent(m.statusView())
	if m.showingLogs {
		m.updateLogView()
	}
	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	if m.showingLogs {
		sb.WriteString("\n\nOutput:\n")
		sb.WriteString(m.logView.View())
	}
	sb.WriteString("\nPress q to quit, enter/space to toggle logs, up/down or j/k to navigate")
	return sb.String()
}

func styleFor(s executor.Status) lipgloss.Style {
	switch s {
	case executor.StatusRunning:
		return runningStyle
	case executor.StatusBuilt, executor.StatusFresh:
		return builtStyle
	case executor.StatusFailed:
		return failedStyle
	case executor.StatusSkipped:
		return skippedStyle
	default:
		return pendingStyle
	}
}

func (m *model) statusView() string {
	var sb strings.Builder
	sb.WriteString("docforge build status\n\n")

	for i, ts := range m.board.Snapshot() {
		var duration time.Duration
		if !ts.End.IsZero() {
			duration = ts.End.Sub(ts.Start)
		} else if !ts.Start.IsZero() {
			duration = time.Since(ts.Start)
		}

		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		sb.WriteString(fmt.Sprintf(
			"%s%-30s | %-8s | %s\n",
			prefix,
			ts.Name,
			styleFor(ts.Status).Render(string(ts.Status)),
			duration.Round(time.Millisecond),
		))
	}
	return sb.String()
}

func (m *model) updateLogView() {
	snap := m.board.Snapshot()
	if m.selectedIdx >= len(snap) {
		return
	}
	lines := snap[m.selectedIdx].LogLines
	if len(lines) == 0 {
		m.logView.SetContent("This target has not produced output yet")
		return
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
	if m.logAutoscroll {
		m.logView.GotoBottom()
	}
}

// Run displays the status view until the build signals done or the user
// quits. It blocks; callers run the build on another goroutine.
func Run(board *executor.StatusBoard, done <-chan struct{}) error {
	p := tea.NewProgram(newModel(board))
	go func() {
		<-done
		// Give the last tick a chance to render final statuses.
		time.Sleep(150 * time.Millisecond)
		p.Send(buildDoneMsg{})
	}()
	_, err := p.Run()
	return err
}
