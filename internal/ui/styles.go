package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/secstack/threatvault/internal/ioc"
)

// Color palette. Risk levels get their own colors; everything else stays
// on a restrained gray scale so the indicators stand out.
const (
	ColorWhite    = "255" // headers
	ColorGray     = "245" // labels, secondary text
	ColorDarkGray = "238" // separators
	ColorGreen    = "118" // low risk, healthy sources
	ColorYellow   = "220" // medium risk, backoff
	ColorOrange   = "208" // high risk
	ColorRed      = "196" // critical risk, disabled sources
)

// Styles holds the render styles for terminal output.
type Styles struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Dim    lipgloss.Style
	Good   lipgloss.Style
	Warn   lipgloss.Style
	Bad    lipgloss.Style

	risk map[ioc.RiskLevel]lipgloss.Style
}

// DefaultStyles returns the colored style set for TTY output.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Value:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Good:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Bad:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		risk: map[ioc.RiskLevel]lipgloss.Style{
			ioc.RiskLow:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
			ioc.RiskMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
			ioc.RiskHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorOrange)),
			ioc.RiskCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		},
	}
}

// NoColorStyles returns unstyled equivalents for plain output.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Label: plain, Value: plain, Dim: plain,
		Good: plain, Warn: plain, Bad: plain,
		risk: map[ioc.RiskLevel]lipgloss.Style{},
	}
}

// Risk returns the style for a risk level, falling back to the plain
// value style for unknown levels.
func (s Styles) Risk(level ioc.RiskLevel) lipgloss.Style {
	if st, ok := s.risk[level]; ok {
		return st
	}
	return s.Value
}
