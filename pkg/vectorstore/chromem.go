// Package vectorstore keeps per-namespace document collections backed by
// chromem-go.
package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/killallgit/finsight/pkg/embeddings"
	"github.com/philippgille/chromem-go"
)

// Document represents a document to be stored in the vector store
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is a document with its similarity to the query
type Result struct {
	Document
	// Score is cosine similarity; higher is better.
	Score float32
}

// Store holds one chromem collection per namespace
type Store struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	mu       sync.Mutex
}

// NewStore creates an in-memory store
func NewStore(embedder embeddings.Embedder) *Store {
	return &Store{db: chromem.NewDB(), embedder: embedder}
}

// NewPersistentStore creates a store that persists collections under dir
func NewPersistentStore(dir string, embedder embeddings.Embedder) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistent chromem DB: %w", err)
	}
	return &Store{db: db, embedder: embedder}, nil
}

// Collection returns the namespace's collection, creating it if needed
func (s *Store) Collection(name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(name, nil, embeddings.Func(s.embedder))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	return &Collection{collection: col, name: name}, nil
}

// Collections lists namespace names
func (s *Store) Collections() []string {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names
}

// Collection is one namespace of documents
type Collection struct {
	collection *chromem.Collection
	name       string
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Count returns the number of stored documents
func (c *Collection) Count() int {
	return c.collection.Count()
}

// AddDocuments embeds and stores docs. Existing ids are overwritten.
func (c *Collection) AddDocuments(ctx context.Context, docs []Document) error {
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	if err := c.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Query returns up to k documents most similar to query, best first
func (c *Collection) Query(ctx context.Context, query string, k int) ([]Result, error) {
	docCount := c.collection.Count()
	if docCount == 0 || k <= 0 {
		return []Result{}, nil
	}
	if k > docCount {
		k = docCount
	}

	found, err := c.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	results := make([]Result, len(found))
	for i, r := range found {
		results[i] = Result{
			Document: Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Score:    r.Similarity,
		}
	}
	return results, nil
}
