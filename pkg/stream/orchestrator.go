// Package stream drives one chat turn at a time from request to completion,
// feeding the response through the frame decoder and event parser into the
// conversation store.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/event"
	"github.com/killallgit/finsight/pkg/frame"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/metrics"
)

var (
	// ErrTurnInProgress is returned when a turn is submitted while another
	// one has not returned to idle.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrEmptyMessage is returned for blank user input
	ErrEmptyMessage = errors.New("message is empty")
)

const defaultReadSize = 4096

// Outcome describes how a turn ended
type Outcome string

const (
	OutcomeCompleted Outcome = metrics.OutcomeCompleted
	OutcomeCancelled Outcome = metrics.OutcomeCancelled
	OutcomeErrored   Outcome = metrics.OutcomeErrored
)

// Result is the terminal report of a turn
type Result struct {
	MessageID string
	Outcome   Outcome
	// Err is set when Outcome is OutcomeErrored.
	Err error
}

// Turn is a submitted turn running in the background
type Turn struct {
	ID     string
	done   chan struct{}
	result Result
}

// Done is closed once the turn is over and the orchestrator is idle again
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn is over
func (t *Turn) Wait() Result {
	<-t.done
	return t.result
}

// StateObserver is called on every state transition
type StateObserver func(from, to State)

// Orchestrator admits at most one turn at a time and routes its stream
// events into the store in arrival order.
type Orchestrator struct {
	store     *chat.Store
	transport Transport
	metrics   *metrics.Stream
	readSize  int

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	observers []StateObserver

	log *logger.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics into m
func WithMetrics(m *metrics.Stream) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithReadSize sets the chunk size used when reading the response body
func WithReadSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// NewOrchestrator creates an idle orchestrator writing into store
func NewOrchestrator(store *chat.Store, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		transport: transport,
		readSize:  defaultReadSize,
		state:     StateIdle,
		log:       logger.WithComponent("stream"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnStateChange registers an observer for state transitions
func (o *Orchestrator) OnStateChange(fn StateObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// Cancel aborts the turn in flight, if any. The turn ends as cancelled and
// keeps whatever content already arrived.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Submit starts a turn for text. It fails with ErrTurnInProgress, without
// touching the store, unless the orchestrator is idle.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		o.metrics.RecordTurn(metrics.OutcomeRejected, 0)
		o.log.Debug("submission rejected", "state", state)
		return nil, ErrTurnInProgress
	}
	turnCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	observers := o.transitionLocked(StateRequesting)
	o.mu.Unlock()
	notify(observers, StateIdle, StateRequesting)

	// History is taken before the new turn so it excludes the in-flight one.
	req := chat.NewChatRequest(text, o.store.Ticker(), o.store.History())
	id := o.store.StartTurn(text)

	turn := &Turn{ID: id, done: make(chan struct{})}
	go o.run(turnCtx, turn, req)
	return turn, nil
}

// Run submits text and waits for the turn to finish
func (o *Orchestrator) Run(ctx context.Context, text string) (Result, error) {
	turn, err := o.Submit(ctx, text)
	if err != nil {
		return Result{}, err
	}
	return turn.Wait(), nil
}

func (o *Orchestrator) run(ctx context.Context, turn *Turn, req chat.ChatRequest) {
	start := time.Now()
	log := o.log.With("message_id", turn.ID, "ticker", req.Ticker)
	log.Info("turn submitted", "history", len(req.History))

	result := o.consume(ctx, turn.ID, req, start, log)
	result.MessageID = turn.ID

	switch result.Outcome {
	case OutcomeErrored:
		o.setState(StateErrored)
		o.store.FailTurn(turn.ID, errorText(result.Err))
		log.Error("turn failed", "error", result.Err)
	default:
		o.setState(StateCompleting)
		o.store.CompleteTurn()
		log.Info("turn finished", "outcome", result.Outcome, "elapsed", time.Since(start))
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	from := o.state
	observers := o.transitionLocked(StateIdle)
	o.mu.Unlock()
	notify(observers, from, StateIdle)

	o.metrics.RecordTurn(string(result.Outcome), time.Since(start))
	turn.result = result
	close(turn.done)
}

// consume reads the body until the backend signals done, the body ends, or
// the turn fails. Records after done are never read.
func (o *Orchestrator) consume(ctx context.Context, id string, req chat.ChatRequest, start time.Time, log *logger.Logger) Result {
	body, err := o.transport.OpenStream(ctx, req)
	if err != nil {
		return o.interrupted(ctx, fmt.Errorf("failed to open stream: %w", err))
	}
	defer body.Close()

	// Closing the body unblocks a pending Read when the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	decoder := frame.NewDecoder()
	buf := make([]byte, o.readSize)
	streaming := false

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if !streaming {
				streaming = true
				o.metrics.RecordFirstByte(time.Since(start))
				o.setState(StateStreaming)
			}
			for _, record := range decoder.Feed(buf[:n]) {
				if res, finished := o.apply(id, record); finished {
					return res
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			if record, ok := decoder.Flush(); ok {
				if res, finished := o.apply(id, record); finished {
					return res
				}
			}
			log.Debug("stream ended without done event")
			return Result{Outcome: OutcomeCompleted}
		}
		if readErr != nil {
			return o.interrupted(ctx, fmt.Errorf("stream read failed: %w", readErr))
		}
	}
}

// interrupted classifies a transport failure. Explicit cancellation ends the
// turn normally; a timeout or any other error fails it.
func (o *Orchestrator) interrupted(ctx context.Context, err error) Result {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{Outcome: OutcomeCancelled}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return Result{Outcome: OutcomeErrored, Err: err}
}

// apply routes one record into the store. finished is true once the turn
// must stop consuming.
func (o *Orchestrator) apply(id, record string) (Result, bool) {
	ev, ok := event.Parse(record)
	if !ok {
		o.metrics.RecordMalformed()
		o.log.Debug("malformed record dropped", "bytes", len(record))
		return Result{}, false
	}
	if !ev.Type.Known() {
		o.metrics.RecordUnknown()
		o.log.Debug("unknown event ignored", "type", ev.Type)
		return Result{}, false
	}
	o.metrics.RecordEvent(string(ev.Type))

	switch ev.Type {
	case event.TypeContexts:
		o.store.ApplyContexts(id, ev.Contexts)
	case event.TypeToken:
		o.store.ApplyTokenDelta(id, ev.Token)
	case event.TypeDone:
		return Result{Outcome: OutcomeCompleted}, true
	case event.TypeError:
		return Result{Outcome: OutcomeErrored, Err: &BackendError{Message: ev.Err}}, true
	}
	return Result{}, false
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	observers := o.transitionLocked(to)
	o.mu.Unlock()
	notify(observers, from, to)
}

func (o *Orchestrator) transitionLocked(to State) []StateObserver {
	o.state = to
	observers := make([]StateObserver, len(o.observers))
	copy(observers, o.observers)
	return observers
}

func notify(observers []StateObserver, from, to State) {
	if from == to {
		return
	}
	for _, fn := range observers {
		fn(from, to)
	}
}

// BackendError is a failure the backend reported inside the stream
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// Messager is implemented by errors carrying a user-facing message
type Messager interface {
	UserMessage() string
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	var m Messager
	if errors.As(err, &m) {
		return m.UserMessage()
	}
	return err.Error()
}
