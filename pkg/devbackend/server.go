// Package devbackend is a self-contained filing question-answering backend
// that speaks the same HTTP and NDJSON protocol as the production API. It
// retrieves from an embedded 10-K corpus and answers extractively, so the
// client can be developed and tested without external services.
package devbackend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/embeddings"
	"github.com/killallgit/finsight/pkg/event"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/metrics"
	"github.com/killallgit/finsight/pkg/vectorstore"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	ServiceName    = "FinSight RAG API"
	ServiceVersion = "1.0.0"
	FilingType     = "10-K"

	ndjsonContentType = "application/x-ndjson"
	shutdownTimeout   = 5 * time.Second
)

// Retriever finds context records for a question about one ticker
type Retriever interface {
	Retrieve(ctx context.Context, ticker, query string, k int) ([]chat.ContextRecord, error)
}

var _ Retriever = (*Index)(nil)

// Options tunes a Server
type Options struct {
	TopK       int
	TokenDelay time.Duration
	// Registry receives server metrics and backs /metrics. Nil disables both.
	Registry *prometheus.Registry
}

// Server serves the filing API over gin
type Server struct {
	corpus    *Corpus
	retriever Retriever
	opts      Options
	metrics   *metrics.Server
	engine    *gin.Engine
	log       *logger.Logger
}

type chatRequest struct {
	Message string                `json:"message" binding:"required"`
	Ticker  string                `json:"ticker" binding:"required"`
	History []chat.HistoryMessage `json:"history"`
}

// NewServer wires routes over corpus and retriever
func NewServer(corpus *Corpus, retriever Retriever, opts Options) *Server {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	s := &Server{
		corpus:    corpus,
		retriever: retriever,
		opts:      opts,
		log:       logger.WithComponent("devbackend"),
	}
	if opts.Registry != nil {
		s.metrics = metrics.NewServer(opts.Registry)
	}
	s.engine = s.routes()
	return s
}

// New builds the embedded corpus index described by cfg and returns a
// server over it.
func New(ctx context.Context, cfg config.DevServerConfig, reg *prometheus.Registry) (*Server, error) {
	corpus, err := DefaultCorpus()
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.New(embeddings.Config{
		Provider: cfg.Embedder,
		Model:    cfg.EmbedModel,
		Endpoint: cfg.OllamaURL,
	})
	if err != nil {
		return nil, err
	}

	var store *vectorstore.Store
	if cfg.PersistDir != "" {
		if store, err = vectorstore.NewPersistentStore(cfg.PersistDir, embedder); err != nil {
			return nil, err
		}
	} else {
		store = vectorstore.NewStore(embedder)
	}

	index := NewIndex(store)
	chunks, err := index.Build(ctx, corpus)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("devbackend").Info("corpus indexed",
		"tickers", len(corpus.Filings), "chunks", chunks, "embedder", cfg.Embedder)

	return NewServer(corpus, index, Options{
		TopK:       cfg.TopK,
		TokenDelay: cfg.TokenDelay,
		Registry:   reg,
	}), nil
}

// Handler returns the HTTP handler for all routes
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe(), cors())

	router.GET("/", s.handleRoot)
	if s.opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(s.opts.Registry)))
	}

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/chat", s.handleChatStream)
	api.POST("/chat/sync", s.handleChatSync)
	api.GET("/filings", s.handleFilings)
	api.GET("/filings/:ticker", s.handleFilingDetails)
	return router
}

// observe logs each request and counts it by route template and status
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.metrics.RecordRequest(route, strconv.Itoa(code))
		s.log.Debug("request handled",
			"method", c.Request.Method,
			"route", route,
			"status", code,
			"elapsed", time.Since(start))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"version": ServiceVersion,
		"status":  "operational",
		"docs":    "/api/docs",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

func (s *Server) handleFilings(c *gin.Context) {
	tickers := s.corpus.Tickers()
	filings := make([]gin.H, 0, len(tickers))
	for _, t := range tickers {
		filings = append(filings, gin.H{
			"ticker":       t,
			"company_name": s.corpus.CompanyName(t),
			"available":    true,
		})
	}
	c.JSON(http.StatusOK, gin.H{"filings": filings})
}

func (s *Server) handleFilingDetails(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	if _, ok := s.corpus.Filing(ticker); !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Filing not found for ticker: " + ticker})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticker":       ticker,
		"company_name": s.corpus.CompanyName(ticker),
		"filing_type":  FilingType,
		"sections":     s.corpus.DetailSections,
		"available":    true,
	})
}

// bindChat decodes and validates a chat request, writing the error response
// itself when it fails.
func (s *Server) bindChat(c *gin.Context) (chatRequest, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": validationDetail(err)})
		return req, false
	}

	req.Ticker = strings.ToUpper(req.Ticker)
	if _, ok := s.corpus.Filing(req.Ticker); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": s.unsupportedTicker(req.Ticker)})
		return req, false
	}
	return req, true
}

func (s *Server) unsupportedTicker(ticker string) string {
	quoted := make([]string, 0, len(s.corpus.Filings))
	for _, t := range s.corpus.Tickers() {
		quoted = append(quoted, "'"+t+"'")
	}
	return fmt.Sprintf("Unsupported ticker: %s. Supported tickers: [%s]", ticker, strings.Join(quoted, ", "))
}

// validationDetail renders binding failures as a list of {loc, msg} items
func validationDetail(err error) []gin.H {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []gin.H{{"loc": []string{"body"}, "msg": err.Error(), "type": "value_error"}}
	}

	detail := make([]gin.H, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		detail = append(detail, gin.H{
			"loc":  []string{"body", field},
			"msg":  fmt.Sprintf("%s is %s", field, fe.Tag()),
			"type": "value_error",
		})
	}
	return detail
}

func (s *Server) retrieve(ctx context.Context, req chatRequest) ([]chat.ContextRecord, error) {
	contexts, err := s.retriever.Retrieve(ctx, req.Ticker, req.Message, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRetrieved(len(contexts))
	return contexts, nil
}

func (s *Server) handleChatSync(c *gin.Context) {
	req, ok := s.bindChat(c)
	if !ok {
		return
	}

	contexts, err := s.retrieve(c.Request.Context(), req)
	if err != nil {
		s.log.Error("retrieval failed", "ticker", req.Ticker, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Retrieval failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response": Compose(req.Message, contexts),
		"contexts": contexts,
		"ticker":   req.Ticker,
	})
}

// handleChatStream writes contexts, then the answer token by token, then
// done. A retrieval failure after the response started is reported as an
// error event.
func (s *Server) handleChatStream(c *gin.Context) {
	req, ok := s.bindChat(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	contexts, err := s.retrieve(ctx, req)
	if err != nil {
		s.log.Error("retrieval failed", "ticker", req.Ticker, "error", err)
		s.write(c, event.Error("Retrieval failed: "+err.Error()))
		return
	}
	if !s.write(c, event.Contexts(contexts)) {
		return
	}

	for _, tok := range Tokens(Compose(req.Message, contexts)) {
		if s.opts.TokenDelay > 0 {
			select {
			case <-ctx.Done():
				s.log.Debug("client went away mid-stream", "ticker", req.Ticker)
				return
			case <-time.After(s.opts.TokenDelay):
			}
		}
		if !s.write(c, event.Token(tok)) {
			return
		}
		s.metrics.RecordToken()
	}
	s.write(c, event.Done())
}

// write sends one record and flushes it. It reports false once the client
// can no longer be written to.
func (s *Server) write(c *gin.Context, ev event.Event) bool {
	record, err := event.Encode(ev)
	if err != nil {
		s.log.Error("failed to encode event", "type", ev.Type, "error", err)
		return false
	}
	if _, err := c.Writer.Write(record); err != nil {
		s.log.Debug("stream write failed", "error", err)
		return false
	}
	c.Writer.Flush()
	return true
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("development backend listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("development backend shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
