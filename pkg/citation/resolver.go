// Package citation correlates inline citation markers with context records.
package citation

import (
	"regexp"
	"strings"

	"github.com/killallgit/finsight/pkg/chat"
)

// Resolve returns the first record whose section header contains marker, or
// is contained by it, ignoring case. Records are checked in slice order, so
// the upstream relevance ranking decides ties. An empty marker or header
// never matches.
func Resolve(marker string, contexts []chat.ContextRecord) (chat.ContextRecord, bool) {
	needle := strings.ToLower(strings.TrimSpace(marker))
	if needle == "" {
		return chat.ContextRecord{}, false
	}

	for _, record := range contexts {
		header := strings.ToLower(strings.TrimSpace(record.SectionHeader))
		if header == "" {
			continue
		}
		if strings.Contains(needle, header) || strings.Contains(header, needle) {
			return record, true
		}
	}
	return chat.ContextRecord{}, false
}

// Marker is a bracketed citation found in generated text
type Marker struct {
	// Raw is the full bracketed text, brackets included.
	Raw string
	// Label is the text used for matching, e.g. "Risk Factors".
	Label string
	Year  string
	// Start and End are byte offsets of Raw within the content.
	Start int
	End   int
}

var (
	bracketPattern = regexp.MustCompile(`\[([^\[\]\n]{1,200})\]`)
	yearPattern    = regexp.MustCompile(`^(?:19|20)\d{2}$`)
)

// ExtractMarkers finds bracketed citation tags such as
// "[Section: Risk Factors, 2023]" in content, in order of appearance.
func ExtractMarkers(content string) []Marker {
	matches := bracketPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}

	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		inner := content[m[2]:m[3]]
		label, year := splitLabel(inner)
		if label == "" {
			continue
		}
		markers = append(markers, Marker{
			Raw:   content[m[0]:m[1]],
			Label: label,
			Year:  year,
			Start: m[0],
			End:   m[1],
		})
	}
	return markers
}

func splitLabel(inner string) (label, year string) {
	label = strings.TrimSpace(inner)

	if prefix, rest, ok := strings.Cut(label, ":"); ok {
		switch strings.ToLower(strings.TrimSpace(prefix)) {
		case "section", "source":
			label = strings.TrimSpace(rest)
		}
	}

	if idx := strings.LastIndex(label, ","); idx >= 0 {
		tail := strings.TrimSpace(label[idx+1:])
		if yearPattern.MatchString(tail) {
			year = tail
			label = strings.TrimSpace(label[:idx])
		}
	}
	return label, year
}
