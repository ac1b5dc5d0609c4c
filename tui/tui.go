// Package tui renders live scan progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/strixlabs/strix/agent"
)

const feedSize = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	stateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	vulnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type eventMsg struct{ event agent.Event }

type tickMsg time.Time

// Model is the bubbletea model for a running scan.
type Model struct {
	target string

	state      agent.State
	iteration  int
	maxIter    int
	tokens     int
	vulnCount  int
	feed       []string
	frame      int
	done       bool
	success    bool
	summary    string
	quitScan   context.CancelFunc
	events     <-chan agent.Event
}

// New creates a Model fed by the given event channel. cancel is
// invoked when the user quits so the scan shuts down cleanly.
func New(target string, maxIter int, events <-chan agent.Event, cancel context.CancelFunc) Model {
	return Model{
		target:   target,
		state:    agent.StateReady,
		maxIter:  maxIter,
		events:   events,
		quitScan: cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.quitScan != nil {
				m.quitScan()
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()

	case eventMsg:
		m = m.apply(msg.event)
		if m.done {
			return m, tea.Quit
		}
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m Model) apply(e agent.Event) Model {
	switch e := e.(type) {
	case *agent.StateChangeEvent:
		m.state = e.To
	case *agent.IterationEvent:
		m.iteration = e.Iteration
		m.maxIter = e.Max
	case *agent.LLMUsageEvent:
		m.tokens += e.TotalTokens
	case *agent.ToolCallEvent:
		line := fmt.Sprintf("%s %s (%s)", e.At.Format("15:04:05"), e.ToolName, e.Duration.Round(time.Millisecond))
		if e.Error != "" {
			line = errStyle.Render(line + " failed: " + firstLine(e.Error))
		} else {
			line = dimStyle.Render(line)
		}
		m.feed = appendFeed(m.feed, line)
	case *agent.VulnerabilityEvent:
		m.vulnCount = e.Total
		m.feed = appendFeed(m.feed, vulnStyle.Render(
			fmt.Sprintf("%s [%s] %s", e.At.Format("15:04:05"), strings.ToUpper(string(e.Finding.Severity)), e.Finding.Title)))
	case *agent.ScanFinishedEvent:
		m.done = true
		m.success = e.Success
		m.summary = e.Summary
	}
	return m
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Strix") + dimStyle.Render("  "+m.target) + "\n\n")

	spinner := spinnerFrames[m.frame]
	if m.done {
		if m.success {
			spinner = okStyle.Render("✔")
		} else {
			spinner = errStyle.Render("✘")
		}
	}
	b.WriteString(fmt.Sprintf("%s %s  iteration %d/%d  tokens %d  findings %s\n\n",
		spinner,
		stateStyle.Render(string(m.state)),
		m.iteration, m.maxIter,
		m.tokens,
		vulnStyle.Render(fmt.Sprintf("%d", m.vulnCount))))

	for _, line := range m.feed {
		b.WriteString("  " + line + "\n")
	}

	if m.done {
		b.WriteString("\n" + m.summary + "\n")
	} else {
		b.WriteString("\n" + dimStyle.Render("q to abort") + "\n")
	}
	return b.String()
}

// Run subscribes to the bus and drives the TUI until the scan
// finishes or the user quits.
func Run(bus agent.EventBus, target string, maxIter int, cancel context.CancelFunc) error {
	events := make(chan agent.Event, 100)
	id := bus.Subscribe(agent.EventAll, func(e agent.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer bus.Unsubscribe(id)

	p := tea.NewProgram(New(target, maxIter, events, cancel))
	_, err := p.Run()
	return err
}

func appendFeed(feed []string, line string) []string {
	feed = append(feed, line)
	if len(feed) > feedSize {
		feed = feed[len(feed)-feedSize:]
	}
	return feed
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
