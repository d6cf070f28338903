package tui

import (
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	bodyStyle   = lipgloss.NewStyle().PaddingLeft(2)
)

const revealCursor = "▍"

func speakerStyle(s models.Speaker) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(s.Color()))
}
