package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "nomic-embed-text"
)

// OllamaEmbedder implements Embedder on top of the langchaingo Ollama client
type OllamaEmbedder struct {
	endpoint string
	model    string

	once     sync.Once
	embedder lcembeddings.Embedder
	initErr  error
	timeout  time.Duration

	mu         sync.Mutex
	dimensions int
}

// OllamaConfig contains configuration for OllamaEmbedder
type OllamaConfig struct {
	// Endpoint is the Ollama server URL
	Endpoint string

	// Model is the embedding model to use (e.g., "nomic-embed-text")
	Model string

	// Timeout for API requests
	Timeout time.Duration
}

// NewOllamaEmbedder creates an Ollama embedder. Empty fields fall back to
// OLLAMA_HOST and OLLAMA_EMBED_MODEL, then to local defaults. The server is
// not contacted until the first embedding is requested.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	if config.Endpoint == "" {
		config.Endpoint = os.Getenv("OLLAMA_HOST")
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultOllamaEndpoint
	}
	if config.Model == "" {
		config.Model = os.Getenv("OLLAMA_EMBED_MODEL")
	}
	if config.Model == "" {
		config.Model = defaultOllamaModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaEmbedder{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		model:    config.Model,
		timeout:  config.Timeout,
	}
}

func (e *OllamaEmbedder) client() (lcembeddings.Embedder, error) {
	e.once.Do(func() {
		llm, err := ollama.New(
			ollama.WithServerURL(e.endpoint),
			ollama.WithModel(e.model),
			ollama.WithHTTPClient(&http.Client{Timeout: e.timeout}),
		)
		if err != nil {
			e.initErr = fmt.Errorf("failed to create Ollama client: %w", err)
			return
		}
		e.embedder, e.initErr = lcembeddings.NewEmbedder(llm)
	})
	return e.embedder, e.initErr
}

// EmbedText creates an embedding for a single text
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embedder, err := e.client()
	if err != nil {
		return nil, err
	}
	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	e.recordDimensions(len(vec))
	return vec, nil
}

// EmbedTexts creates embeddings for multiple texts
func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, err := e.client()
	if err != nil {
		return nil, err
	}
	vecs, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}
	if len(vecs) > 0 {
		e.recordDimensions(len(vecs[0]))
	}
	return vecs, nil
}

func (e *OllamaEmbedder) recordDimensions(n int) {
	e.mu.Lock()
	e.dimensions = n
	e.mu.Unlock()
}

// GetDimensions returns the dimensionality seen in the last response
func (e *OllamaEmbedder) GetDimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}
