package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mergequeue/mqd/internal/config"
	"github.com/mergequeue/mqd/internal/dispatcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of queue occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh := 500 * time.Millisecond
		if cfg, err := config.Load(); err == nil {
			refresh = cfg.Watch.RefreshRate
		}
		p := tea.NewProgram(newWatchModel(refresh))
		_, err := p.Run()
		return err
	},
}

type statusMsg dispatcher.Response
type errMsg struct{ err error }

type watchModel struct {
	refresh time.Duration
	snap    dispatcher.Response
	lastErr error
	quit    bool
}

func newWatchModel(refresh time.Duration) *watchModel {
	return &watchModel{refresh: refresh}
}

func (m *watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m *watchModel) poll() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		resp, err := send(dispatcher.Request{Type: dispatcher.ReqStatus})
		if err != nil {
			return errMsg{err}
		}
		return statusMsg(resp)
	})
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}
	case statusMsg:
		m.snap = dispatcher.Response(msg)
		m.lastErr = nil
		return m, m.poll()
	case errMsg:
		m.lastErr = msg.err
		return m, m.poll()
	}
	return m, nil
}

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true)
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func (m *watchModel) View() string {
	if m.quit {
		return ""
	}
	if m.lastErr != nil {
		return fmt.Sprintf("%s\n%s\n\n[q] quit\n", watchHeaderStyle.Render("mqctl watch"), watchErrStyle.Render(m.lastErr.Error()))
	}

	body := fmt.Sprintf(
		"queue length: %d\npending:      %d\nprocessing:   %d\nagents:       %v",
		m.snap.QueueLength, m.snap.Pending, m.snap.Processing, m.snap.Agents,
	)
	return fmt.Sprintf("%s\n\n%s\n\n[q] quit\n", watchHeaderStyle.Render("mqctl watch"), body)
}
