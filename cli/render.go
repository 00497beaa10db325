package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	stageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7FD18B"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// renderDocument boxes a document under a stage heading.
func renderDocument(stage, body string) string {
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("DOCUMENT · %s", stage))
	text := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(body)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, text))
}

func renderFields(label string, fields []string) string {
	return mutedStyle.Render(fmt.Sprintf("%s: %s", label, strings.Join(fields, ", ")))
}
