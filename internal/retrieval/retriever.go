// Package retrieval builds and queries a passage index of textbook text.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const embedBatchSize = 32

// Options tune how text is prepared for the embedder.
type Options struct {
	Chunker Chunker
	// QueryPrefix and PassagePrefix are prepended before embedding, for
	// models trained with asymmetric prefixes such as "query: ".
	QueryPrefix   string
	PassagePrefix string
}

// Retriever indexes source text and answers similarity queries.
type Retriever struct {
	index    *Index
	embedder Embedder
	opts     Options
}

// NewRetriever creates a retriever over index using embedder.
func NewRetriever(index *Index, embedder Embedder, opts Options) *Retriever {
	if opts.Chunker.Size <= 0 {
		opts.Chunker = DefaultChunker
	}
	return &Retriever{index: index, embedder: embedder, opts: opts}
}

// Index returns the underlying passage index.
func (r *Retriever) Index() *Index {
	return r.index
}

// Retrieve returns up to topK passages of source ranked by similarity to
// query. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, source string, topK int) ([]Passage, error) {
	if source == "" {
		return nil, errors.New("retrieval source is required")
	}
	vecs, err := r.embedder.Embed(ctx, []string{r.opts.QueryPrefix + query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	return r.index.Search(ctx, source, vecs[0], topK)
}

// Ingest replaces the passages of document within source with chunks of the
// OCR text raw. It returns the number of passages stored.
func (r *Retriever) Ingest(ctx context.Context, source, document, raw string) (int, error) {
	if source == "" {
		return 0, errors.New("retrieval source is required")
	}

	var passages []Passage
	for _, page := range SplitPages(raw) {
		for j, chunk := range r.opts.Chunker.Split(page.Content) {
			passages = append(passages, Passage{
				Source:   source,
				Document: document,
				Page:     page.Number,
				Chunk:    j,
				Content:  chunk,
			})
		}
	}
	if len(passages) == 0 {
		return 0, errors.New("no text to index")
	}

	embeddings := make([][]float32, 0, len(passages))
	for start := 0; start < len(passages); start += embedBatchSize {
		end := min(start+embedBatchSize, len(passages))
		texts := make([]string, 0, end-start)
		for _, p := range passages[start:end] {
			texts = append(texts, r.opts.PassagePrefix+p.Content)
		}
		vecs, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed passages %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), len(texts))
		}
		embeddings = append(embeddings, vecs...)
		slog.Debug("embedded passages", "source", source, "document", document, "done", end, "total", len(passages))
	}

	if err := r.index.DeleteDocument(ctx, source, document); err != nil {
		return 0, fmt.Errorf("clear %s in source %s: %w", document, source, err)
	}
	if err := r.index.Add(ctx, passages, embeddings); err != nil {
		return 0, err
	}
	slog.Info("indexed document", "source", source, "document", document, "passages", len(passages))
	return len(passages), nil
}
