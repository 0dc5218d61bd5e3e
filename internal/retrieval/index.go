package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Passage is a chunk of source text, optionally with a similarity score.
type Passage struct {
	ID       int64   `json:"id"`
	Source   string  `json:"source"`
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Chunk    int     `json:"chunk"`
	Content  string  `json:"content"`
	Score    float32 `json:"score,omitempty"`
}

// Index stores passages and their embeddings in SQLite.
type Index struct {
	db *sql.DB
}

// NewIndex creates the passages table if needed.
func NewIndex(db *sql.DB) (*Index, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS passages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		document TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL,
		chunk INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source);
	`)
	if err != nil {
		return nil, fmt.Errorf("create passages table: %w", err)
	}
	return &Index{db: db}, nil
}

// Add stores passages with their embeddings in one transaction.
func (idx *Index) Add(ctx context.Context, passages []Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("got %d embeddings for %d passages", len(embeddings), len(passages))
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i, p := range passages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO passages (source, document, page, chunk, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Source, p.Document, p.Page, p.Chunk, p.Content, EncodeEmbedding(embeddings[i]), now,
		)
		if err != nil {
			return fmt.Errorf("insert passage: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteSource removes every passage of a source.
func (idx *Index) DeleteSource(ctx context.Context, source string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM passages WHERE source = ?`, source)
	return err
}

// DeleteDocument removes the passages of one document within a source.
func (idx *Index) DeleteDocument(ctx context.Context, source, document string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM passages WHERE source = ? AND document = ?`, source, document)
	return err
}

// Count returns the number of passages stored for a source.
func (idx *Index) Count(ctx context.Context, source string) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE source = ?`, source).Scan(&n)
	return n, err
}

// Sources lists the distinct sources with their passage counts.
func (idx *Index) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM passages GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		out[source] = n
	}
	return out, rows.Err()
}

// Search ranks the passages of a source by cosine similarity to vec and
// returns the best topK. topK <= 0 returns all.
func (idx *Index) Search(ctx context.Context, source string, vec []float32, topK int) ([]Passage, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, source, document, page, chunk, content, embedding FROM passages WHERE source = ?`, source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Passage
	for rows.Next() {
		var p Passage
		var blob []byte
		if err := rows.Scan(&p.ID, &p.Source, &p.Document, &p.Page, &p.Chunk, &p.Content, &blob); err != nil {
			return nil, err
		}
		emb := DecodeEmbedding(blob)
		if emb == nil {
			continue
		}
		p.Score = CosineSimilarity(vec, emb)
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
