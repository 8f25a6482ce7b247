package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ankittk/agentdeck/pkg/models"
)

var (
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7385"))

	senderStyles = map[string]lipgloss.Style{
		models.SenderUser:   lipgloss.NewStyle().Foreground(lipgloss.Color("#a3be8c")).Bold(true),
		models.SenderAgent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#81a1c1")).Bold(true),
		models.SenderSystem: mutedStyle.Bold(true),
	}

	activityStyles = map[models.ActivityType]lipgloss.Style{
		models.ActivityMessage: lipgloss.NewStyle().Foreground(lipgloss.Color("#81a1c1")),
		models.ActivityStatus:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ebcb8b")),
		models.ActivityTask:    lipgloss.NewStyle().Foreground(lipgloss.Color("#a3be8c")),
		models.ActivitySystem:  mutedStyle,
		models.ActivityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#bf616a")).Bold(true),
	}
)

func senderStyle(sender string) lipgloss.Style {
	if s, ok := senderStyles[sender]; ok {
		return s
	}
	return mutedStyle
}

func activityStyle(t models.ActivityType) lipgloss.Style {
	if s, ok := activityStyles[t]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
