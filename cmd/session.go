package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/citation"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/render"
	"github.com/killallgit/finsight/pkg/stream"
)

const helpText = `Commands:
  /ticker [SYMBOL]  list companies or switch to SYMBOL (clears the conversation)
  /clear            clear the conversation
  /contexts         show the source passages behind the last answer
  /cite <N|label>   highlight a source passage by number or section name
  /history          show the conversation so far
  /status           show ticker, stream state and backend connectivity
  /help             show this help
  /quit             leave`

// Connectivity reports whether the backend answered its last probe
type Connectivity interface {
	Connected() bool
}

// session ties the conversation store to the orchestrator and prints the
// conversation as it changes.
type session struct {
	store       *chat.Store
	orch        *stream.Orchestrator
	catalog     *backend.Catalog
	highlighter *citation.Highlighter
	health      Connectivity
	render      *render.Renderer
	out         io.Writer

	unsubscribe func()
	log         *logger.Logger
}

func newSession(store *chat.Store, orch *stream.Orchestrator, catalog *backend.Catalog,
	highlighter *citation.Highlighter, health Connectivity, r *render.Renderer, out io.Writer) *session {
	s := &session{
		store:       store,
		orch:        orch,
		catalog:     catalog,
		highlighter: highlighter,
		health:      health,
		render:      r,
		out:         out,
		log:         logger.WithComponent("session"),
	}
	s.unsubscribe = store.Subscribe(s.onChange)
	return s
}

// onChange streams the assistant's answer to the terminal as it arrives
func (s *session) onChange(c chat.Change) {
	switch c.Kind {
	case chat.ChangeTurnStarted:
		fmt.Fprint(s.out, s.render.Notice("FinSight: "))
	case chat.ChangeToken:
		fmt.Fprint(s.out, c.Text)
	case chat.ChangeTurnFailed:
		fmt.Fprintln(s.out)
		fmt.Fprint(s.out, s.render.Error(chat.FormatError(c.Text)))
	}
}

func (s *session) close() {
	s.highlighter.Stop()
	s.unsubscribe()
}

// handle runs one line of input. It returns true when the user asked to leave.
func (s *session) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}

	if strings.HasPrefix(input, "/") {
		return s.command(ctx, input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return true
	}

	s.ask(ctx, input)
	return false
}

// ask submits a question and blocks until the answer is complete
func (s *session) ask(ctx context.Context, text string) {
	turn, err := s.orch.Submit(ctx, text)
	if err != nil {
		if errors.Is(err, stream.ErrTurnInProgress) {
			s.println(s.render.Warning("Still answering the previous question."))
			return
		}
		s.println(s.render.Error(err.Error()))
		return
	}

	result := turn.Wait()
	fmt.Fprintln(s.out)

	switch result.Outcome {
	case stream.OutcomeCancelled:
		s.println(s.render.Notice("[cancelled]"))
	case stream.OutcomeErrored:
		if errors.Is(result.Err, backend.ErrUnsupportedTicker) {
			s.println(s.render.Notice("Use /ticker to pick a supported company."))
		}
		return
	}

	if m, ok := s.store.Message(turn.ID); ok {
		if sources := s.render.Citations(m, s.store.HighlightedContextID()); sources != "" {
			s.println(sources)
		}
	}
}

func (s *session) command(ctx context.Context, input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/?":
		s.println(helpText)
	case "/clear":
		s.store.ClearTranscript()
		s.println(s.render.Notice("Conversation cleared."))
	case "/ticker":
		s.selectTicker(ctx, arg)
	case "/contexts":
		s.println(s.render.Contexts(s.store.ActiveContexts(), s.store.HighlightedContextID()))
	case "/cite":
		s.cite(arg)
	case "/history":
		s.println(s.render.Transcript(s.store.Messages(), s.store.HighlightedContextID()))
	case "/status":
		s.println(s.render.Status(s.store.Ticker(), s.orch.State(), s.health.Connected()))
	default:
		s.println(s.render.Warning("Unknown command " + name + ". Type /help for commands."))
	}
	return false
}

func (s *session) selectTicker(ctx context.Context, arg string) {
	if arg == "" {
		entries, live := s.catalog.List(ctx)
		if !live {
			s.println(s.render.Notice("Backend catalog unavailable, showing built-in list."))
		}
		current := s.store.Ticker()
		for _, e := range entries {
			marker := "  "
			if e.Ticker == current {
				marker = "* "
			}
			s.println(fmt.Sprintf("%s%-6s %s", marker, e.Ticker, e.CompanyName))
		}
		return
	}

	entry, ok := s.catalog.Lookup(ctx, arg)
	if !ok {
		s.println(s.render.Warning("Unknown ticker " + strings.ToUpper(arg) + ". Type /ticker to list companies."))
		return
	}

	// A switch discards the conversation, including any answer in flight.
	if s.orch.Cancel() {
		s.log.Debug("cancelled turn for ticker switch", "ticker", entry.Ticker)
	}
	if s.store.SelectTicker(entry.Ticker) {
		s.println(s.render.Notice(fmt.Sprintf("Now analysing %s (%s).", entry.CompanyName, entry.Ticker)))
		return
	}
	s.println(s.render.Notice("Already analysing " + entry.Ticker + "."))
}

// cite highlights a context either by its 1-based position or by a marker
// label such as "Risk Factors".
func (s *session) cite(arg string) {
	if arg == "" {
		s.println(s.render.Warning("Usage: /cite <N|label>"))
		return
	}

	marker := arg
	if n, err := strconv.Atoi(arg); err == nil {
		contexts := s.store.ActiveContexts()
		if n < 1 || n > len(contexts) {
			s.println(s.render.Warning(fmt.Sprintf("No source passage %d.", n)))
			return
		}
		marker = contexts[n-1].SectionHeader
	}

	if _, ok := s.highlighter.Activate(marker); !ok {
		s.println(s.render.Notice("No source passage matches " + strconv.Quote(arg) + "."))
		return
	}
	s.println(s.render.Contexts(s.store.ActiveContexts(), s.store.HighlightedContextID()))
}

func (s *session) println(text string) {
	fmt.Fprintln(s.out, text)
}
