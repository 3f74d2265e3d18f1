package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/killallgit/finsight/pkg/chat"
)

var (
	// ErrUnsupportedTicker matches a backend rejection of the requested ticker
	ErrUnsupportedTicker = errors.New("unsupported ticker")

	// ErrNotFound matches a 404 from the backend
	ErrNotFound = errors.New("not found")
)

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type FilingSummary struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name"`
	Available   bool   `json:"available"`
}

type FilingsResponse struct {
	Filings []FilingSummary `json:"filings"`
}

type FilingDetails struct {
	Ticker      string   `json:"ticker"`
	CompanyName string   `json:"company_name"`
	FilingType  string   `json:"filing_type"`
	Sections    []string `json:"sections"`
	Available   bool     `json:"available"`
}

type SyncChatResponse struct {
	Response string               `json:"response"`
	Contexts []chat.ContextRecord `json:"contexts"`
	Ticker   string               `json:"ticker"`
}

// ErrorResponse is the error body returned by the backend
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusError is a non-2xx response from the backend
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Code)
}

// UserMessage returns the backend's explanation, falling back to the status text
func (e *StatusError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
}

// Is maps well-known backend rejections onto sentinel errors
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnsupportedTicker:
		return e.Code == http.StatusBadRequest && strings.HasPrefix(e.Detail, "Unsupported ticker")
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}
