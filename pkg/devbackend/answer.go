package devbackend

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/embeddings"
)

// NoInformationAnswer is returned when retrieval finds nothing to cite
const NoInformationAnswer = "Based on the available SEC filings, I don't have sufficient information to answer this question."

// maxCited bounds how many contexts contribute a sentence to an answer
const maxCited = 3

// Compose builds an extractive answer from contexts: the sentence of each
// top context that shares the most terms with query, followed by its
// citation marker. The result is deterministic for a given input.
func Compose(query string, contexts []chat.ContextRecord) string {
	if len(contexts) == 0 {
		return NoInformationAnswer
	}

	terms := make(map[string]struct{})
	for _, t := range embeddings.Tokenize(query) {
		terms[t] = struct{}{}
	}

	var parts []string
	seen := make(map[string]struct{})
	for _, ctx := range contexts {
		if len(parts) == maxCited {
			break
		}
		sentence, score := bestSentence(ctx.TextContent, terms)
		if score == 0 {
			continue
		}
		if _, dup := seen[sentence]; dup {
			continue
		}
		seen[sentence] = struct{}{}
		parts = append(parts, sentence+" "+CitationMarker(ctx))
	}

	if len(parts) == 0 {
		// Nothing overlaps the question; fall back to the lead of the best match.
		top := contexts[0]
		sentences := splitSentences(top.TextContent)
		if len(sentences) == 0 {
			return NoInformationAnswer
		}
		parts = append(parts, sentences[0]+" "+CitationMarker(top))
	}
	return strings.Join(parts, " ")
}

// CitationMarker renders the inline marker that cites ctx
func CitationMarker(ctx chat.ContextRecord) string {
	if ctx.Year == "" {
		return fmt.Sprintf("[Section: %s]", ctx.SectionHeader)
	}
	return fmt.Sprintf("[Section: %s, %s]", ctx.SectionHeader, ctx.Year)
}

// Tokens splits an answer into the deltas streamed to the client. Each
// token keeps its trailing space so concatenation restores the answer.
func Tokens(answer string) []string {
	parts := strings.SplitAfter(answer, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func bestSentence(text string, terms map[string]struct{}) (string, int) {
	best, bestScore := "", 0
	for _, s := range splitSentences(text) {
		score := 0
		for _, t := range embeddings.Tokenize(s) {
			if _, ok := terms[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best, bestScore
}

// splitSentences breaks text after terminal punctuation that is followed by
// whitespace and an upper-case letter, which keeps "U.S. dollar" intact.
func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)

	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+2 < len(runes) && runes[i+1] == ' ' && unicode.IsUpper(runes[i+2]) {
			out = append(out, strings.TrimSpace(string(runes[start:i+1])))
			start = i + 2
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
