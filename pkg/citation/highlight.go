package citation

import (
	"sync"
	"time"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/logger"
)

// DefaultHighlightDuration is how long a highlight stays before auto-clearing
const DefaultHighlightDuration = 2 * time.Second

// Target is the state a Highlighter reads contexts from and writes the
// highlight pointer to. *chat.Store implements it.
type Target interface {
	ActiveContexts() []chat.ContextRecord
	SetHighlight(contextID string) uint64
	ClearHighlight(gen uint64) bool
}

var _ Target = (*chat.Store)(nil)

// Timer is the subset of *time.Timer the highlighter needs
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Highlight is an active cross-highlight, returned for acknowledgement
type Highlight struct {
	Record chat.ContextRecord
	gen    uint64
}

// Highlighter implements the activate/acknowledge protocol for citation
// markers. Each highlight clears itself after a fixed window unless a newer
// one replaced it first.
type Highlighter struct {
	target    Target
	duration  time.Duration
	afterFunc AfterFunc

	mu    sync.Mutex
	timer Timer

	log *logger.Logger
}

// HighlighterOption configures a Highlighter
type HighlighterOption func(*Highlighter)

// WithDuration sets the auto-clear window
func WithDuration(d time.Duration) HighlighterOption {
	return func(h *Highlighter) {
		if d > 0 {
			h.duration = d
		}
	}
}

// WithAfterFunc replaces the timer source (useful for testing)
func WithAfterFunc(fn AfterFunc) HighlighterOption {
	return func(h *Highlighter) { h.afterFunc = fn }
}

// NewHighlighter creates a highlighter over target
func NewHighlighter(target Target, opts ...HighlighterOption) *Highlighter {
	h := &Highlighter{
		target:    target,
		duration:  DefaultHighlightDuration,
		afterFunc: realAfterFunc,
		log:       logger.WithComponent("citation"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Activate resolves marker against the current active contexts and, on a
// match, highlights the record. Unresolved markers change nothing.
func (h *Highlighter) Activate(marker string) (Highlight, bool) {
	record, ok := Resolve(marker, h.target.ActiveContexts())
	if !ok {
		h.log.Debug("citation unresolved", "marker", marker)
		return Highlight{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timer != nil {
		h.timer.Stop()
	}
	gen := h.target.SetHighlight(record.ID)
	h.timer = h.afterFunc(h.duration, func() {
		h.target.ClearHighlight(gen)
	})

	h.log.Debug("citation highlighted", "marker", marker, "context_id", record.ID)
	return Highlight{Record: record, gen: gen}, true
}

// Acknowledge clears hl early. It reports false if hl was already cleared
// or superseded.
func (h *Highlighter) Acknowledge(hl Highlight) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleared := h.target.ClearHighlight(hl.gen)
	if cleared && h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	return cleared
}

// Stop cancels any pending auto-clear
func (h *Highlighter) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
