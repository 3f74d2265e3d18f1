// Package metrics exposes prometheus instrumentation for the stream pipeline
// and the development backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finsight"

// Turn outcomes used as the "outcome" label
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeErrored   = "errored"
	OutcomeRejected  = "rejected"
)

// Stream holds client-side stream pipeline metrics. A nil *Stream is valid
// and records nothing.
type Stream struct {
	records         *prometheus.CounterVec
	malformed       prometheus.Counter
	unknown         prometheus.Counter
	turns           *prometheus.CounterVec
	timeToFirstByte prometheus.Histogram
	turnDuration    prometheus.Histogram
}

// NewStream registers stream metrics with reg
func NewStream(reg prometheus.Registerer) *Stream {
	factory := promauto.With(reg)

	return &Stream{
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Decoded stream events by type",
		}, []string{"type"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "malformed_records_total",
			Help:      "Records dropped because they failed to decode",
		}),
		unknown: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "unknown_events_total",
			Help:      "Events ignored because their type is not recognized",
		}),
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		}, []string{"outcome"}),
		timeToFirstByte: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "time_to_first_byte_seconds",
			Help:      "Time from request to the first response chunk",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a chat turn",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// RecordEvent counts one decoded event
func (s *Stream) RecordEvent(eventType string) {
	if s == nil {
		return
	}
	s.records.WithLabelValues(eventType).Inc()
}

// RecordMalformed counts one dropped record
func (s *Stream) RecordMalformed() {
	if s == nil {
		return
	}
	s.malformed.Inc()
}

// RecordUnknown counts one ignored event
func (s *Stream) RecordUnknown() {
	if s == nil {
		return
	}
	s.unknown.Inc()
}

// RecordTurn counts a finished turn and its duration
func (s *Stream) RecordTurn(outcome string, d time.Duration) {
	if s == nil {
		return
	}
	s.turns.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		s.turnDuration.Observe(d.Seconds())
	}
}

// RecordFirstByte observes the latency until the first chunk arrived
func (s *Stream) RecordFirstByte(d time.Duration) {
	if s == nil {
		return
	}
	s.timeToFirstByte.Observe(d.Seconds())
}

// Server holds development backend request metrics
type Server struct {
	requests  *prometheus.CounterVec
	retrieved prometheus.Histogram
	streamed  prometheus.Counter
}

// NewServer registers server metrics with reg
func NewServer(reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)

	return &Server{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		retrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "retrieved_contexts",
			Help:      "Number of context records returned per query",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		streamed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "streamed_tokens_total",
			Help:      "Token events written to chat streams",
		}),
	}
}

// RecordRequest counts one handled request
func (s *Server) RecordRequest(route, code string) {
	if s == nil {
		return
	}
	s.requests.WithLabelValues(route, code).Inc()
}

// RecordRetrieved observes how many contexts a query returned
func (s *Server) RecordRetrieved(n int) {
	if s == nil {
		return
	}
	s.retrieved.Observe(float64(n))
}

// RecordToken counts one streamed token
func (s *Server) RecordToken() {
	if s == nil {
		return
	}
	s.streamed.Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
