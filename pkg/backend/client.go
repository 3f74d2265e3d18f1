// Package backend is the HTTP client for the filing question-answering API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/stream"
)

const (
	DefaultTimeout = 30 * time.Second

	ndjsonContentType = "application/x-ndjson"
	maxErrorBody      = 64 << 10
)

var _ stream.Transport = (*Client)(nil)

type Client struct {
	baseURL string
	// httpClient bounds whole requests; streamClient only bounds the wait
	// for response headers so long answers are not cut off.
	httpClient   *http.Client
	streamClient *http.Client
	log          *logger.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces both underlying HTTP clients
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	return NewClientWithTimeout(baseURL, DefaultTimeout, opts...)
}

// NewClientWithTimeout creates a client whose plain requests time out after
// timeout and whose streams must start responding within it.
func NewClientWithTimeout(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	streamTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Transport: streamTransport},
		log:          logger.WithComponent("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenStream posts req to the streaming chat endpoint and returns the NDJSON
// response body. It satisfies stream.Transport.
func (c *Client) OpenStream(ctx context.Context, req chat.ChatRequest) (io.ReadCloser, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, "/chat", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", ndjsonContentType)

	c.log.Debug("opening chat stream", "ticker", req.Ticker, "history", len(req.History))
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("chat", resp)
	}
	return resp.Body, nil
}

// SyncChat asks a question and waits for the complete answer
func (c *Client) SyncChat(ctx context.Context, req chat.ChatRequest) (*SyncChatResponse, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, "/chat/sync", req)
	if err != nil {
		return nil, err
	}

	var out SyncChatResponse
	if err := c.do(httpReq, "chat sync", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Filings lists the tickers the backend knows about
func (c *Client) Filings(ctx context.Context) ([]FilingSummary, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/filings", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out FilingsResponse
	if err := c.do(httpReq, "filings", &out); err != nil {
		return nil, err
	}
	return out.Filings, nil
}

// FilingDetails returns the filing metadata for one ticker
func (c *Client) FilingDetails(ctx context.Context, ticker string) (*FilingDetails, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	endpoint := c.baseURL + "/filings/" + url.PathEscape(ticker)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out FilingDetails
	if err := c.do(httpReq, "filing details", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Detail: parseDetail(body)}
}

// parseDetail extracts the "detail" field of an error body. Validation
// errors carry a list of {msg} objects instead of a string.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(envelope.Detail)
}
