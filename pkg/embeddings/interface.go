// Package embeddings turns text into vectors for similarity search.
package embeddings

import (
	"context"
	"fmt"
	"strings"
)

// Embedder defines the interface for creating embeddings
type Embedder interface {
	// EmbedText creates an embedding for a single text
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts creates embeddings for multiple texts
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// GetDimensions returns the dimensionality of the embeddings, zero
	// until known
	GetDimensions() int
}

// Provider names accepted by New
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
)

// Config selects and configures an embedder
type Config struct {
	// Provider name ("hash" or "ollama")
	Provider string

	// Model name for embeddings (ollama only)
	Model string

	// API endpoint (ollama only)
	Endpoint string

	// Dimensions of hashed embeddings
	Dimensions int
}

// New creates the embedder named by cfg.Provider
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{Endpoint: cfg.Endpoint, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Func adapts an Embedder to the single-text signature vector stores expect
func Func(e Embedder) func(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedText
}
