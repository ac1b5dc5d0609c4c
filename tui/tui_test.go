package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strixlabs/strix/agent"
	"github.com/strixlabs/strix/telemetry"
)

func TestModel_AppliesEvents(t *testing.T) {
	m := New("https://example.com", 60, nil, nil)

	m = m.apply(&agent.StateChangeEvent{From: agent.StateReady, To: agent.StateRunning, At: time.Now()})
	assert.Equal(t, agent.StateRunning, m.state)

	m = m.apply(&agent.IterationEvent{Iteration: 5, Max: 60, At: time.Now()})
	assert.Equal(t, 5, m.iteration)

	m = m.apply(&agent.LLMUsageEvent{TotalTokens: 100, At: time.Now()})
	m = m.apply(&agent.LLMUsageEvent{TotalTokens: 50, At: time.Now()})
	assert.Equal(t, 150, m.tokens)

	m = m.apply(&agent.ToolCallEvent{ToolName: "terminal_execute", Duration: 120 * time.Millisecond, At: time.Now()})
	require.Len(t, m.feed, 1)
	assert.Contains(t, m.feed[0], "terminal_execute")

	m = m.apply(&agent.VulnerabilityEvent{
		Finding: telemetry.Vulnerability{Title: "SQLi", Severity: telemetry.SeverityHigh},
		Total:   1,
		At:      time.Now(),
	})
	assert.Equal(t, 1, m.vulnCount)

	view := m.View()
	assert.Contains(t, view, "https://example.com")
	assert.Contains(t, view, "5/60")
	assert.Contains(t, view, "SQLi")
}

func TestModel_FeedBounded(t *testing.T) {
	m := New("t", 10, nil, nil)
	for i := 0; i < feedSize+10; i++ {
		m = m.apply(&agent.ToolCallEvent{ToolName: "scan_notes", At: time.Now()})
	}
	assert.Len(t, m.feed, feedSize)
}

func TestModel_FinishQuits(t *testing.T) {
	events := make(chan agent.Event, 1)
	m := New("t", 10, events, nil)

	next, cmd := m.Update(eventMsg{event: &agent.ScanFinishedEvent{
		Success: true,
		Summary: "All done.",
		At:      time.Now(),
	}})
	require.NotNil(t, cmd)

	model := next.(Model)
	assert.True(t, model.done)
	assert.Contains(t, model.View(), "All done.")
}

func TestModel_QuitKeyCancelsScan(t *testing.T) {
	cancelled := false
	m := New("t", 10, nil, func() { cancelled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, cancelled)
}
