package devbackend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/devbackend"
	"github.com/killallgit/finsight/pkg/event"
	"github.com/killallgit/finsight/pkg/frame"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
)

type stubRetriever struct {
	contexts []chat.ContextRecord
	err      error
	tickers  []string
	queries  []string
}

func (r *stubRetriever) Retrieve(_ context.Context, ticker, query string, _ int) ([]chat.ContextRecord, error) {
	r.tickers = append(r.tickers, ticker)
	r.queries = append(r.queries, query)
	return r.contexts, r.err
}

var _ = Describe("Server", func() {
	var (
		retriever *stubRetriever
		server    *devbackend.Server
		reg       *prometheus.Registry
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed())
		return out
	}

	events := func(w *httptest.ResponseRecorder) []event.Event {
		var out []event.Event
		for _, record := range frame.Split(w.Body.Bytes()) {
			ev, ok := event.Parse(record)
			Expect(ok).To(BeTrue(), "record %q", record)
			out = append(out, ev)
		}
		return out
	}

	BeforeEach(func() {
		corpus, err := devbackend.DefaultCorpus()
		Expect(err).NotTo(HaveOccurred())

		retriever = &stubRetriever{contexts: []chat.ContextRecord{{
			ID:            "c1",
			Score:         0.91,
			TextContent:   "Services revenue was $85.2 billion, an increase of 9% year-over-year.",
			SectionHeader: "Financial Data",
			SourceURL:     "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=0000320193&type=10-K",
			Year:          "2023",
		}}}
		reg = prometheus.NewRegistry()
		server = devbackend.NewServer(corpus, retriever, devbackend.Options{TopK: 5, Registry: reg})
	})

	Describe("metadata routes", func() {
		It("reports health", func() {
			w := do(http.MethodGet, "/api/health", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(Equal(map[string]any{
				"status":  "healthy",
				"service": "FinSight RAG API",
				"version": "1.0.0",
			}))
		})

		It("describes the service at the root", func() {
			body := decode(do(http.MethodGet, "/", ""))
			Expect(body).To(HaveKeyWithValue("status", "operational"))
			Expect(body).To(HaveKeyWithValue("docs", "/api/docs"))
		})

		It("lists the supported filings", func() {
			w := do(http.MethodGet, "/api/filings", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"filings":[
				{"ticker":"AAPL","company_name":"Apple Inc.","available":true},
				{"ticker":"MSFT","company_name":"Microsoft Corporation","available":true},
				{"ticker":"GOOGL","company_name":"Alphabet Inc.","available":true}
			]}`))
		})

		It("returns filing details case-insensitively", func() {
			w := do(http.MethodGet, "/api/filings/msft", "")
			Expect(w.Code).To(Equal(http.StatusOK))

			body := decode(w)
			Expect(body).To(HaveKeyWithValue("ticker", "MSFT"))
			Expect(body).To(HaveKeyWithValue("filing_type", "10-K"))
			Expect(body["sections"]).To(HaveLen(5))
		})

		It("returns 404 for a filing it does not hold", func() {
			w := do(http.MethodGet, "/api/filings/TSLA", "")
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)).To(HaveKeyWithValue("detail", "Filing not found for ticker: TSLA"))
		})

		It("answers preflight requests", func() {
			w := do(http.MethodOptions, "/api/chat", "")
			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("POST /api/chat", func() {
		It("streams contexts, the answer tokens and done", func() {
			w := do(http.MethodPost, "/api/chat", `{"message":"How much services revenue?","ticker":"aapl","history":[]}`)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/x-ndjson"))

			evs := events(w)
			Expect(len(evs)).To(BeNumerically(">=", 3))
			Expect(evs[0].Type).To(Equal(event.TypeContexts))
			Expect(evs[0].Contexts).To(Equal(retriever.contexts))
			Expect(evs[len(evs)-1].Type).To(Equal(event.TypeDone))

			var answer strings.Builder
			for _, ev := range evs[1 : len(evs)-1] {
				Expect(ev.Type).To(Equal(event.TypeToken))
				answer.WriteString(ev.Token)
			}
			Expect(answer.String()).To(Equal(devbackend.Compose("How much services revenue?", retriever.contexts)))
			Expect(answer.String()).To(HaveSuffix("[Section: Financial Data, 2023]"))

			Expect(retriever.tickers).To(Equal([]string{"AAPL"}))
		})

		It("streams the no-information answer when nothing is retrieved", func() {
			retriever.contexts = nil
			evs := events(do(http.MethodPost, "/api/chat", `{"message":"q","ticker":"AAPL"}`))

			Expect(evs[0].Type).To(Equal(event.TypeContexts))
			Expect(evs[0].Contexts).To(BeEmpty())
			Expect(evs[len(evs)-1].Type).To(Equal(event.TypeDone))
		})

		It("rejects an unsupported ticker before streaming", func() {
			w := do(http.MethodPost, "/api/chat", `{"message":"hi","ticker":"TSLA"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("detail",
				"Unsupported ticker: TSLA. Supported tickers: ['AAPL', 'MSFT', 'GOOGL']"))
			Expect(retriever.tickers).To(BeEmpty())
		})

		It("rejects an empty message with a validation detail list", func() {
			w := do(http.MethodPost, "/api/chat", `{"message":"","ticker":"AAPL"}`)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))

			body := decode(w)
			Expect(body["detail"]).To(HaveLen(1))
			Expect(w.Body.String()).To(ContainSubstring("message is required"))
		})

		It("rejects malformed JSON", func() {
			w := do(http.MethodPost, "/api/chat", `{"message":`)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("reports a retrieval failure as an error event", func() {
			retriever.err = errors.New("index offline")
			w := do(http.MethodPost, "/api/chat", `{"message":"hi","ticker":"AAPL"}`)
			Expect(w.Code).To(Equal(http.StatusOK))

			evs := events(w)
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].Type).To(Equal(event.TypeError))
			Expect(evs[0].Err).To(ContainSubstring("index offline"))
		})
	})

	Describe("POST /api/chat/sync", func() {
		It("returns the complete answer with its contexts", func() {
			w := do(http.MethodPost, "/api/chat/sync", `{"message":"How much services revenue?","ticker":"AAPL"}`)
			Expect(w.Code).To(Equal(http.StatusOK))

			var body struct {
				Response string               `json:"response"`
				Contexts []chat.ContextRecord `json:"contexts"`
				Ticker   string               `json:"ticker"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Ticker).To(Equal("AAPL"))
			Expect(body.Contexts).To(Equal(retriever.contexts))
			Expect(body.Response).To(ContainSubstring("[Section: Financial Data, 2023]"))
		})

		It("returns 500 when retrieval fails", func() {
			retriever.err = errors.New("index offline")
			w := do(http.MethodPost, "/api/chat/sync", `{"message":"hi","ticker":"AAPL"}`)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(decode(w)["detail"]).To(ContainSubstring("index offline"))
		})
	})

	Describe("metrics", func() {
		It("counts requests by route template", func() {
			do(http.MethodGet, "/api/filings/AAPL", "")
			do(http.MethodGet, "/api/filings/MSFT", "")
			do(http.MethodPost, "/api/chat", `{"message":"revenue","ticker":"AAPL"}`)

			w := do(http.MethodGet, "/metrics", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`finsight_devserver_requests_total{code="200",route="/api/filings/:ticker"} 2`))
			Expect(w.Body.String()).To(ContainSubstring("finsight_devserver_streamed_tokens_total"))
			Expect(w.Body.String()).To(ContainSubstring("finsight_devserver_retrieved_contexts_count 1"))
		})
	})
})
