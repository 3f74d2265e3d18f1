package chat

import (
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextRecord is one retrieved source passage grounding an answer.
// Records arrive as an immutable batch and are shared, never mutated.
type ContextRecord struct {
	ID            string  `json:"id"`
	Score         float64 `json:"score"`
	TextContent   string  `json:"text_content"`
	SectionHeader string  `json:"section_header"`
	SourceURL     string  `json:"source_url"`
	Year          string  `json:"year"`
}

// Message is a read-only snapshot of one transcript entry
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Contexts  []ContextRecord `json:"contexts,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Failed    bool            `json:"failed,omitempty"`
}

// HistoryMessage is the wire form of a prior turn sent with a request
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the outbound request body for both streaming and sync chat
type ChatRequest struct {
	Message string           `json:"message"`
	Ticker  string           `json:"ticker"`
	History []HistoryMessage `json:"history"`
}

// NewChatRequest builds a request, trimming the user text and normalizing the ticker
func NewChatRequest(message, ticker string, history []HistoryMessage) ChatRequest {
	if history == nil {
		history = []HistoryMessage{}
	}
	return ChatRequest{
		Message: strings.TrimSpace(message),
		Ticker:  strings.ToUpper(strings.TrimSpace(ticker)),
		History: history,
	}
}

// message is the store's mutable form. Content accumulates in a builder so
// appending many small deltas stays linear overall.
type message struct {
	id        string
	role      string
	content   strings.Builder
	contexts  []ContextRecord
	createdAt time.Time
	failed    bool
}

func (m *message) snapshot() Message {
	return Message{
		ID:        m.id,
		Role:      m.role,
		Content:   m.content.String(),
		Contexts:  m.contexts,
		CreatedAt: m.createdAt,
		Failed:    m.failed,
	}
}

// FormatError renders the text that replaces a failed assistant placeholder
func FormatError(msg string) string {
	return "Error: " + msg
}
