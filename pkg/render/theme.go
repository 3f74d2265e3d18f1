package render

import (
	"github.com/charmbracelet/lipgloss"
)

// Warm earth-tone palette
var (
	ColorBase03 = lipgloss.Color("#5c5044")
	ColorBase05 = lipgloss.Color("#ab937b")
	ColorBase07 = lipgloss.Color("#f5d7b9")

	ColorRed    = lipgloss.Color("#d95f5f")
	ColorOrange = lipgloss.Color("#eb8755")
	ColorYellow = lipgloss.Color("#f5b761")
	ColorGreen  = lipgloss.Color("#93b56b")
	ColorCyan   = lipgloss.Color("#61afaf")

	ColorFocus     = ColorOrange
	ColorSuccess   = ColorGreen
	ColorError     = ColorRed
	ColorInfo      = ColorCyan
	ColorMuted     = ColorBase03
	ColorHighlight = ColorYellow
)

// Styles holds the lipgloss styles used for transcript output
type Styles struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	AssistantText  lipgloss.Style
	ErrorText      lipgloss.Style

	// Citation is a marker that resolved to a context record;
	// HighlightedCitation is one whose record is currently highlighted.
	Citation            lipgloss.Style
	HighlightedCitation lipgloss.Style

	ContextHeader            lipgloss.Style
	HighlightedContextHeader lipgloss.Style
	ContextBody              lipgloss.Style
	ContextCard              lipgloss.Style
	HighlightedContextCard   lipgloss.Style

	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
}

// DefaultStyles builds the default styles on r. A nil renderer uses the
// lipgloss default renderer.
func DefaultStyles(r *lipgloss.Renderer) *Styles {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}

	return &Styles{
		UserLabel: r.NewStyle().
			Foreground(ColorFocus).
			Bold(true),

		AssistantLabel: r.NewStyle().
			Foreground(ColorInfo).
			Bold(true),

		UserText: r.NewStyle().
			Foreground(ColorBase07),

		AssistantText: r.NewStyle().
			Foreground(ColorBase05),

		ErrorText: r.NewStyle().
			Foreground(ColorError),

		Citation: r.NewStyle().
			Foreground(ColorInfo).
			Underline(true),

		HighlightedCitation: r.NewStyle().
			Foreground(ColorBase07).
			Background(ColorHighlight).
			Bold(true),

		ContextHeader: r.NewStyle().
			Foreground(ColorInfo).
			Bold(true),

		HighlightedContextHeader: r.NewStyle().
			Foreground(ColorHighlight).
			Bold(true),

		ContextBody: r.NewStyle().
			Foreground(ColorBase05),

		ContextCard: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),

		HighlightedContextCard: r.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(ColorHighlight).
			Padding(0, 1),

		Muted: r.NewStyle().
			Foreground(ColorMuted).
			Italic(true),

		Success: r.NewStyle().
			Foreground(ColorSuccess),

		Warning: r.NewStyle().
			Foreground(ColorHighlight),
	}
}
