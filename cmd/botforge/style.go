package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jxucoder/botforge/model"
)

var (
	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))

	labelStyle = lipgloss.NewStyle().Bold(true)
)

func kindStyle(kind model.LogKind) lipgloss.Style {
	switch kind {
	case model.LogSuccess:
		return successStyle
	case model.LogCommand:
		return commandStyle
	case model.LogError:
		return errorStyle
	}
	return infoStyle
}

// renderLog formats one log entry as "HH:MM:SS message", colored by kind.
func renderLog(e model.LogEntry) string {
	ts := e.Timestamp.Local().Format(time.TimeOnly)
	return fmt.Sprintf("%s %s", dimStyle.Render(ts), kindStyle(e.Kind).Render(e.Message))
}

func renderState(state model.BuildState) string {
	switch state {
	case model.StateSuccess:
		return successStyle.Bold(true).Render(string(state))
	case model.StateError:
		return errorStyle.Bold(true).Render(string(state))
	}
	return stateStyle.Render(string(state))
}

// formatRemaining renders a countdown as M:SS.
func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
