package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		client   *backend.Client
		server   *httptest.Server
		received chat.ChatRequest
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			switch r.URL.Path {
			case "/api/chat":
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				if received.Ticker == "TSLA" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"detail":"Unsupported ticker: TSLA. Supported tickers: ['AAPL', 'MSFT', 'GOOGL']"}`))
					return
				}
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.Write([]byte(`{"type":"token","data":"hi"}` + "\n" + `{"type":"done"}` + "\n"))
			case "/api/chat/sync":
				Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"response":"Revenue grew [Section: Financial Data, 2023].","contexts":[{"id":"c1","score":0.8,"text_content":"t","section_header":"Financial Data","source_url":"u","year":"2023"}],"ticker":"AAPL"}`))
			case "/api/filings":
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"filings":[{"ticker":"AAPL","company_name":"Apple Inc.","available":true}]}`))
			case "/api/filings/MSFT":
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"ticker":"MSFT","company_name":"Microsoft Corporation","filing_type":"10-K","sections":["Business Overview","Risk Factors"],"available":true}`))
			case "/api/health":
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"healthy","service":"finsight-api","version":"1.0.0"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"detail":"Not Found"}`))
			}
		}))
		client = backend.NewClient(server.URL + "/api/")
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("OpenStream", func() {
		It("should post the request and return the NDJSON body", func() {
			req := chat.NewChatRequest("What are the risks?", "aapl", []chat.HistoryMessage{{Role: "user", Content: "Hi"}})
			body, err := client.OpenStream(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			defer body.Close()

			data, err := io.ReadAll(body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"type":"done"`))
			Expect(received.Message).To(Equal("What are the risks?"))
			Expect(received.Ticker).To(Equal("AAPL"))
			Expect(received.History).To(HaveLen(1))
		})

		It("should surface the backend detail on rejection", func() {
			_, err := client.OpenStream(ctx, chat.NewChatRequest("Q", "TSLA", nil))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, backend.ErrUnsupportedTicker)).To(BeTrue())

			var statusErr *backend.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(http.StatusBadRequest))
			Expect(statusErr.UserMessage()).To(HavePrefix("Unsupported ticker: TSLA"))
		})

		It("should fail when the backend is unreachable", func() {
			dead := backend.NewClientWithTimeout("http://127.0.0.1:1/api", time.Second)
			_, err := dead.OpenStream(ctx, chat.NewChatRequest("Q", "AAPL", nil))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SyncChat", func() {
		It("should return the full answer and contexts", func() {
			resp, err := client.SyncChat(ctx, chat.NewChatRequest("Revenue?", "AAPL", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Response).To(ContainSubstring("Revenue grew"))
			Expect(resp.Contexts).To(HaveLen(1))
			Expect(resp.Contexts[0].SectionHeader).To(Equal("Financial Data"))
			Expect(resp.Ticker).To(Equal("AAPL"))
		})
	})

	Describe("Filings", func() {
		It("should list the catalog", func() {
			filings, err := client.Filings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(filings).To(Equal([]backend.FilingSummary{{Ticker: "AAPL", CompanyName: "Apple Inc.", Available: true}}))
		})

		It("should return filing details", func() {
			details, err := client.FilingDetails(ctx, "msft")
			Expect(err).NotTo(HaveOccurred())
			Expect(details.FilingType).To(Equal("10-K"))
			Expect(details.Sections).To(ContainElement("Risk Factors"))
		})

		It("should map a missing filing to ErrNotFound", func() {
			_, err := client.FilingDetails(ctx, "NVDA")
			Expect(errors.Is(err, backend.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("CheckHealth", func() {
		It("should report a healthy backend", func() {
			status, err := client.CheckHealth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Available).To(BeTrue())
			Expect(status.Version).To(Equal("1.0.0"))
			Expect(client.Probe(ctx)).To(BeTrue())
		})

		It("should report an unreachable backend without an error", func() {
			dead := backend.NewClient("http://127.0.0.1:1/api")
			status, err := dead.CheckHealthWithTimeout(time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Available).To(BeFalse())
			Expect(status.Error).To(HaveOccurred())
			Expect(dead.Probe(ctx)).To(BeFalse())
		})
	})
})

var _ = Describe("StatusError", func() {
	It("should join validation messages", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail":[{"loc":["body","message"],"msg":"field required"}]}`))
		}))
		defer server.Close()

		_, err := backend.NewClient(server.URL).SyncChat(context.Background(), chat.ChatRequest{})
		var statusErr *backend.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.Detail).To(Equal("field required"))
		Expect(statusErr.Error()).To(ContainSubstring("422"))
	})

	It("should fall back to status text without a detail", func() {
		err := &backend.StatusError{Op: "chat", Code: http.StatusBadGateway}
		Expect(err.UserMessage()).To(Equal("backend returned 502 Bad Gateway"))
		Expect(errors.Is(err, backend.ErrNotFound)).To(BeFalse())
	})
})
