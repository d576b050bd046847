package output

import "github.com/charmbracelet/lipgloss"

// Color palette, lime accent on grays.
const (
	ColorLime     = "154"
	ColorLimeDim  = "106"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
	ColorCyan     = "51"
)

// Styles holds the styles used by a Writer.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Label    lipgloss.Style
	Progress lipgloss.Style

	// Result rendering
	Path    lipgloss.Style
	Score   lipgloss.Style
	Both    lipgloss.Style
	Snippet lipgloss.Style
}

// DefaultStyles returns the colored styles for terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),

		Path:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Score: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Both:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Snippet: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color(ColorLimeDim)).
			PaddingLeft(1),
	}
}

// NoColorStyles returns unstyled components for pipes and NO_COLOR.
func NoColorStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle(),
		Success:  lipgloss.NewStyle(),
		Warning:  lipgloss.NewStyle(),
		Error:    lipgloss.NewStyle(),
		Dim:      lipgloss.NewStyle(),
		Label:    lipgloss.NewStyle(),
		Progress: lipgloss.NewStyle(),
		Path:     lipgloss.NewStyle(),
		Score:    lipgloss.NewStyle(),
		Both:     lipgloss.NewStyle(),
		Snippet:  lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
