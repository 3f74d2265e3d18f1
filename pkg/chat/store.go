package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/finsight/pkg/logger"
)

// ChangeKind identifies which store operation produced a Change
type ChangeKind string

const (
	ChangeTurnStarted   ChangeKind = "turn_started"
	ChangeContexts      ChangeKind = "contexts"
	ChangeToken         ChangeKind = "token"
	ChangeTurnCompleted ChangeKind = "turn_completed"
	ChangeTurnFailed    ChangeKind = "turn_failed"
	ChangeCleared       ChangeKind = "cleared"
	ChangeError         ChangeKind = "error"
	ChangeTicker        ChangeKind = "ticker"
	ChangeHighlight     ChangeKind = "highlight"
)

// Change describes one applied mutation
type Change struct {
	Kind      ChangeKind
	MessageID string
	// Text carries the token delta, error text, ticker or highlighted
	// context id depending on Kind.
	Text string
}

// Subscriber receives changes in mutation order. It must not mutate the
// store synchronously.
type Subscriber func(Change)

// Store is the single source of truth for the transcript, the active
// context set and the selection state. All methods are safe for concurrent
// use; mutations are serialized.
type Store struct {
	mu sync.RWMutex

	messages       []*message
	index          map[string]*message
	activeContexts []ContextRecord
	contextsSeen   bool
	currentTurn    string
	loading        bool
	lastError      string
	ticker         string
	highlightID    string
	highlightGen   uint64
	lastCreated    time.Time

	now   func() time.Time
	newID func() string

	// notifyMu is held across mutate+dispatch so subscribers observe
	// changes in the order they were applied.
	notifyMu    sync.Mutex
	subsMu      sync.Mutex
	subscribers map[int]Subscriber
	nextSub     int

	log *logger.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides message id generation
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates an empty store scoped to ticker
func NewStore(ticker string, opts ...StoreOption) *Store {
	s := &Store{
		index:       make(map[string]*message),
		ticker:      normalizeTicker(ticker),
		now:         time.Now,
		newID:       uuid.NewString,
		subscribers: make(map[int]Subscriber),
		log:         logger.WithComponent("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for all future changes and returns a func that
// removes the registration.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subscribers, id)
	}
}

// mutate applies fn under the write lock and dispatches the resulting
// changes once the lock is released.
func (s *Store) mutate(fn func() []Change) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changes := fn()
	s.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	s.subsMu.Lock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for i := 0; i < s.nextSub; i++ {
		if sub, ok := s.subscribers[i]; ok {
			subs = append(subs, sub)
		}
	}
	s.subsMu.Unlock()

	for _, c := range changes {
		for _, sub := range subs {
			sub(c)
		}
	}
}

func (s *Store) appendMessage(role, content string) *message {
	created := s.now()
	if !created.After(s.lastCreated) {
		created = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = created

	m := &message{id: s.newID(), role: role, createdAt: created}
	m.content.WriteString(content)
	s.messages = append(s.messages, m)
	s.index[m.id] = m
	return m
}

// StartTurn appends the user message and an empty assistant placeholder,
// returning the placeholder id that routes the rest of the turn.
func (s *Store) StartTurn(userText string) string {
	var id string
	s.mutate(func() []Change {
		user := s.appendMessage(RoleUser, strings.TrimSpace(userText))
		assistant := s.appendMessage(RoleAssistant, "")

		id = assistant.id
		s.currentTurn = id
		s.contextsSeen = false
		s.loading = true
		s.lastError = ""

		return []Change{{Kind: ChangeTurnStarted, MessageID: id, Text: user.id}}
	})
	s.log.Debug("turn started", "message_id", id)
	return id
}

// ApplyContexts replaces the active context set with records and attaches
// the same slice to the assistant message. A later call in the same turn
// replaces rather than merges. Returns false when the message is gone.
func (s *Store) ApplyContexts(assistantID string, records []ContextRecord) bool {
	applied := false
	s.mutate(func() []Change {
		m, ok := s.index[assistantID]
		if !ok {
			return nil
		}
		m.contexts = records
		s.activeContexts = records
		s.contextsSeen = true
		applied = true
		return []Change{{Kind: ChangeContexts, MessageID: assistantID}}
	})
	if !applied {
		s.log.Debug("contexts for unknown message dropped", "message_id", assistantID)
	}
	return applied
}

// ApplyTokenDelta appends text to the identified message. Returns false
// when the message is gone.
func (s *Store) ApplyTokenDelta(assistantID, text string) bool {
	applied := false
	s.mutate(func() []Change {
		m, ok := s.index[assistantID]
		if !ok {
			return nil
		}
		m.content.WriteString(text)
		applied = true
		return []Change{{Kind: ChangeToken, MessageID: assistantID, Text: text}}
	})
	return applied
}

// CompleteTurn clears the loading flag. A turn that never delivered a
// context set leaves the active contexts empty.
func (s *Store) CompleteTurn() {
	s.mutate(func() []Change {
		s.loading = false
		if !s.contextsSeen {
			s.activeContexts = nil
		}
		id := s.currentTurn
		s.currentTurn = ""
		return []Change{{Kind: ChangeTurnCompleted, MessageID: id}}
	})
}

// ClearTranscript empties messages and active contexts together
func (s *Store) ClearTranscript() {
	s.mutate(func() []Change {
		s.clearLocked()
		return []Change{{Kind: ChangeCleared}}
	})
}

func (s *Store) clearLocked() {
	s.messages = nil
	s.index = make(map[string]*message)
	s.activeContexts = nil
	s.contextsSeen = false
	s.lastError = ""
	s.highlightID = ""
	s.highlightGen++
}

// SetError records an error independent of any message
func (s *Store) SetError(msg string) {
	s.mutate(func() []Change {
		s.lastError = msg
		return []Change{{Kind: ChangeError, Text: msg}}
	})
}

// FailTurn records msg as the turn error and overwrites the placeholder
// content with an error-formatted string. The loading flag is cleared.
func (s *Store) FailTurn(assistantID, msg string) {
	s.mutate(func() []Change {
		s.lastError = msg
		s.loading = false
		if !s.contextsSeen {
			s.activeContexts = nil
		}
		if s.currentTurn == assistantID {
			s.currentTurn = ""
		}

		changes := []Change{{Kind: ChangeError, Text: msg}}
		if m, ok := s.index[assistantID]; ok {
			m.content.Reset()
			m.content.WriteString(FormatError(msg))
			m.failed = true
			changes = append(changes, Change{Kind: ChangeTurnFailed, MessageID: assistantID, Text: msg})
		}
		return changes
	})
	s.log.Warn("turn failed", "message_id", assistantID, "error", msg)
}

// SelectTicker switches the analysis subject. A different ticker clears the
// transcript and active contexts in the same step. Returns true on change.
func (s *Store) SelectTicker(ticker string) bool {
	ticker = normalizeTicker(ticker)
	changed := false
	s.mutate(func() []Change {
		if ticker == s.ticker {
			return nil
		}
		s.ticker = ticker
		s.clearLocked()
		changed = true
		return []Change{{Kind: ChangeCleared}, {Kind: ChangeTicker, Text: ticker}}
	})
	if changed {
		s.log.Info("ticker selected", "ticker", ticker)
	}
	return changed
}

// SetHighlight points the highlight at contextID and returns a generation
// token for ClearHighlight.
func (s *Store) SetHighlight(contextID string) uint64 {
	var gen uint64
	s.mutate(func() []Change {
		s.highlightGen++
		s.highlightID = contextID
		gen = s.highlightGen
		return []Change{{Kind: ChangeHighlight, Text: contextID}}
	})
	return gen
}

// ClearHighlight clears the highlight set under gen. A highlight that has
// since been replaced is left alone.
func (s *Store) ClearHighlight(gen uint64) bool {
	cleared := false
	s.mutate(func() []Change {
		if gen != s.highlightGen || s.highlightID == "" {
			return nil
		}
		s.highlightID = ""
		cleared = true
		return []Change{{Kind: ChangeHighlight}}
	})
	return cleared
}

// Messages returns a snapshot of the transcript in order
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.snapshot()
	}
	return out
}

// Message returns a snapshot of one message
func (s *Store) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return m.snapshot(), true
}

// Len returns the number of messages in the transcript
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ActiveContexts returns the current context set. The slice is shared and
// must be treated as read-only.
func (s *Store) ActiveContexts() []ContextRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeContexts
}

// Loading reports whether a turn is in flight
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Error returns the last recorded error, empty if none
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Ticker returns the selected ticker
func (s *Store) Ticker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker
}

// HighlightedContextID returns the highlighted context id, empty if none
func (s *Store) HighlightedContextID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highlightID
}

// History returns the transcript in wire form for the next request.
// Failed and empty assistant messages are left out.
func (s *Store) History() []HistoryMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]HistoryMessage, 0, len(s.messages))
	for _, m := range s.messages {
		content := m.content.String()
		if m.role == RoleAssistant && (m.failed || content == "") {
			continue
		}
		history = append(history, HistoryMessage{Role: m.role, Content: content})
	}
	return history
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
