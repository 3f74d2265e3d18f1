// Package render formats the conversation for a line-oriented terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/citation"
	"github.com/killallgit/finsight/pkg/stream"
)

const (
	defaultWidth   = 80
	snippetLength  = 240
	userLabel      = "You"
	assistantLabel = "FinSight"
)

// SegmentKind classifies a run of message text
type SegmentKind int

const (
	// SegmentText is plain text, including citation markers that did not
	// resolve to any context record.
	SegmentText SegmentKind = iota
	// SegmentCitation is a marker that resolved to a context record
	SegmentCitation
	// SegmentHighlighted is a resolved marker whose record is highlighted
	SegmentHighlighted
)

// Segment is a run of message content with its citation classification
type Segment struct {
	Kind SegmentKind
	Text string
	// ContextID is the resolved record id for citation segments.
	ContextID string
}

// Segments splits content around citation markers, resolving each marker
// against contexts. Concatenating the Text of all segments yields content.
func Segments(content string, contexts []chat.ContextRecord, highlightID string) []Segment {
	var out []Segment
	pos := 0
	for _, m := range citation.ExtractMarkers(content) {
		record, ok := citation.Resolve(m.Label, contexts)
		if !ok {
			continue
		}
		if m.Start > pos {
			out = append(out, Segment{Kind: SegmentText, Text: content[pos:m.Start]})
		}
		kind := SegmentCitation
		if highlightID != "" && record.ID == highlightID {
			kind = SegmentHighlighted
		}
		out = append(out, Segment{Kind: kind, Text: m.Raw, ContextID: record.ID})
		pos = m.End
	}
	if pos < len(content) {
		out = append(out, Segment{Kind: SegmentText, Text: content[pos:]})
	}
	return out
}

// Renderer turns store snapshots into styled terminal text
type Renderer struct {
	styles *Styles
	width  int
}

// New creates a renderer whose color support is detected from w
func New(w io.Writer, width int) *Renderer {
	return NewWithStyles(DefaultStyles(lipgloss.NewRenderer(w)), width)
}

// NewWithStyles creates a renderer with explicit styles
func NewWithStyles(styles *Styles, width int) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Renderer{styles: styles, width: width}
}

// Message renders one transcript entry with its role label. Citations
// resolve against the contexts attached to the message.
func (r *Renderer) Message(m chat.Message, highlightID string) string {
	var label string
	switch m.Role {
	case chat.RoleUser:
		label = r.styles.UserLabel.Render(userLabel + ":")
	default:
		label = r.styles.AssistantLabel.Render(assistantLabel + ":")
	}
	return label + " " + r.Body(m, highlightID)
}

// Body renders message content without the role label
func (r *Renderer) Body(m chat.Message, highlightID string) string {
	switch {
	case m.Failed:
		return r.styles.ErrorText.Render(m.Content)
	case m.Role == chat.RoleUser:
		return r.styles.UserText.Render(m.Content)
	case m.Content == "":
		return r.styles.Muted.Render("…")
	}

	var b strings.Builder
	for _, seg := range Segments(m.Content, m.Contexts, highlightID) {
		switch seg.Kind {
		case SegmentCitation:
			b.WriteString(r.styles.Citation.Render(seg.Text))
		case SegmentHighlighted:
			b.WriteString(r.styles.HighlightedCitation.Render(seg.Text))
		default:
			b.WriteString(r.styles.AssistantText.Render(seg.Text))
		}
	}
	return b.String()
}

// Transcript renders all messages separated by blank lines
func (r *Renderer) Transcript(messages []chat.Message, highlightID string) string {
	if len(messages) == 0 {
		return r.styles.Muted.Render("No messages yet.")
	}
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = r.Message(m, highlightID)
	}
	return strings.Join(parts, "\n\n")
}

// Citations lists the markers in m with their resolution. Resolved markers
// show the record they point at; unresolved ones are listed as plain text.
func (r *Renderer) Citations(m chat.Message, highlightID string) string {
	markers := citation.ExtractMarkers(m.Content)
	if len(markers) == 0 {
		return ""
	}

	lines := make([]string, 0, len(markers))
	seen := make(map[string]struct{})
	for _, mk := range markers {
		if _, dup := seen[mk.Raw]; dup {
			continue
		}
		seen[mk.Raw] = struct{}{}

		record, ok := citation.Resolve(mk.Label, m.Contexts)
		if !ok {
			lines = append(lines, "  "+mk.Raw)
			continue
		}
		style := r.styles.Citation
		if record.ID == highlightID {
			style = r.styles.HighlightedCitation
		}
		lines = append(lines, fmt.Sprintf("  %s %s",
			style.Render(mk.Raw),
			r.styles.Muted.Render(record.SourceURL)))
	}
	return r.styles.Muted.Render("Sources:") + "\n" + strings.Join(lines, "\n")
}

// Contexts renders the active context set as numbered cards, emphasising
// the highlighted record.
func (r *Renderer) Contexts(contexts []chat.ContextRecord, highlightID string) string {
	if len(contexts) == 0 {
		return r.styles.Muted.Render("No source passages for the current answer.")
	}

	cards := make([]string, len(contexts))
	for i, c := range contexts {
		highlighted := highlightID != "" && c.ID == highlightID

		headerStyle, cardStyle := r.styles.ContextHeader, r.styles.ContextCard
		if highlighted {
			headerStyle, cardStyle = r.styles.HighlightedContextHeader, r.styles.HighlightedContextCard
		}

		header := fmt.Sprintf("[%d] %s", i+1, c.SectionHeader)
		if c.Year != "" {
			header += " (" + c.Year + ")"
		}
		meta := fmt.Sprintf("relevance %.0f%%", c.Score*100)

		body := headerStyle.Render(header) + "  " + r.styles.Muted.Render(meta) + "\n" +
			r.styles.ContextBody.Render(Snippet(c.TextContent, snippetLength))
		if c.SourceURL != "" {
			body += "\n" + r.styles.Muted.Render(c.SourceURL)
		}
		cards[i] = cardStyle.Width(r.width - 2).Render(body)
	}
	return strings.Join(cards, "\n")
}

// Status renders the one-line session status
func (r *Renderer) Status(ticker string, state stream.State, connected bool) string {
	conn := r.styles.Success.Render("● connected")
	if !connected {
		conn = r.styles.ErrorText.Render("○ offline")
	}

	status := state.GetDisplayName()
	if icon := state.GetIcon(); icon != "" {
		status = icon + " " + status
	}
	return fmt.Sprintf("%s  %s  %s",
		r.styles.UserLabel.Render(ticker),
		r.styles.Muted.Render(status),
		conn)
}

// Notice renders an informational line
func (r *Renderer) Notice(text string) string {
	return r.styles.Muted.Render(text)
}

// Warning renders a line that needs attention
func (r *Renderer) Warning(text string) string {
	return r.styles.Warning.Render(text)
}

// Error renders an error line
func (r *Renderer) Error(text string) string {
	return r.styles.ErrorText.Render(text)
}

// Snippet collapses whitespace and truncates text to at most n runes,
// marking the cut with an ellipsis.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	cut := strings.TrimRight(string(runes[:n-1]), " ")
	return cut + "…"
}
