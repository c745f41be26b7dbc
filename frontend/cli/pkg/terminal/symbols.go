package terminal

import "github.com/charmbracelet/lipgloss"

// symbol renders glyph once; an empty color leaves the terminal default.
func symbol(glyph string, color string, bold bool) string {
	style := lipgloss.NewStyle().Bold(bold)
	if color != "" {
		style = style.Foreground(lipgloss.Color(color))
	}
	return style.Render(glyph)
}

var (
	InfoSymbol    = symbol("ⓘ", "33", true)
	WarningSymbol = symbol("⚠️", "", false)
	ErrorSymbol   = symbol("❌", "", false)
	SuccessSymbol = symbol("✔", "10", true)
	LinkSymbol    = symbol("→", "75", false)
)

var boldStyle = lipgloss.NewStyle().Bold(true)

func Bold(s string) string {
	return boldStyle.Render(s)
}
