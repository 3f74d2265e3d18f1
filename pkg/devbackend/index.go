package devbackend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/vectorstore"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Index is the per-ticker retrieval index over a corpus. Each ticker gets
// its own collection so queries never cross companies.
type Index struct {
	store    *vectorstore.Store
	splitter textsplitter.RecursiveCharacter
	log      *logger.Logger
}

// NewIndex creates an index over store
func NewIndex(store *vectorstore.Store) *Index {
	splitter := textsplitter.NewRecursiveCharacter()
	splitter.ChunkSize = chunkSize
	splitter.ChunkOverlap = chunkOverlap
	splitter.Separators = []string{"\n\n", "\n", ". ", " ", ""}

	return &Index{
		store:    store,
		splitter: splitter,
		log:      logger.WithComponent("devbackend_index"),
	}
}

// ChunkID derives a stable id for one chunk of a section
func ChunkID(ticker, section string, index int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%d", ticker, section, index)))
	return hex.EncodeToString(sum[:])
}

// Build splits every section into chunks and stores them by ticker. It
// returns the number of chunks indexed.
func (ix *Index) Build(ctx context.Context, corpus *Corpus) (int, error) {
	total := 0
	for _, filing := range corpus.Filings {
		var docs []vectorstore.Document
		for _, section := range filing.Sections {
			chunks, err := ix.splitter.SplitText(section.Content)
			if err != nil {
				return total, fmt.Errorf("failed to split %s %s: %w", filing.Ticker, section.Header, err)
			}
			for i, chunk := range chunks {
				docs = append(docs, vectorstore.Document{
					ID:      ChunkID(filing.Ticker, section.Header, i),
					Content: chunk,
					Metadata: map[string]string{
						"section_header": section.Header,
						"year":           filing.Year,
						"source_url":     filing.SourceURL(),
						"ticker":         filing.Ticker,
						"chunk_index":    strconv.Itoa(i),
					},
				})
			}
		}

		col, err := ix.store.Collection(filing.Ticker)
		if err != nil {
			return total, err
		}
		if err := col.AddDocuments(ctx, docs); err != nil {
			return total, fmt.Errorf("failed to index %s: %w", filing.Ticker, err)
		}
		ix.log.Debug("indexed filing", "ticker", filing.Ticker, "chunks", len(docs))
		total += len(docs)
	}
	return total, nil
}

// Retrieve returns up to k context records for query within ticker's filing,
// most relevant first.
func (ix *Index) Retrieve(ctx context.Context, ticker, query string, k int) ([]chat.ContextRecord, error) {
	col, err := ix.store.Collection(ticker)
	if err != nil {
		return nil, err
	}

	results, err := col.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}

	contexts := make([]chat.ContextRecord, 0, len(results))
	for _, r := range results {
		header := r.Metadata["section_header"]
		if header == "" {
			header = "Unknown Section"
		}
		contexts = append(contexts, chat.ContextRecord{
			ID:            r.ID,
			Score:         clampScore(float64(r.Score)),
			TextContent:   r.Content,
			SectionHeader: header,
			SourceURL:     r.Metadata["source_url"],
			Year:          r.Metadata["year"],
		})
	}
	return contexts, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
