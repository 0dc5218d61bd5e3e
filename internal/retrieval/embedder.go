package retrieval

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder produces vector embeddings for a batch of texts, in input order.
// *llm.Client satisfies it through the embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// KeywordEmbedder hashes words into a fixed number of buckets. It needs no
// external service and serves as the fallback when no embedding model is
// configured.
type KeywordEmbedder struct {
	dimension int
}

// NewKeywordEmbedder creates a keyword embedder with the given dimension.
func NewKeywordEmbedder(dimension int) *KeywordEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &KeywordEmbedder{dimension: dimension}
}

// Embed returns L2-normalized bag-of-words vectors.
func (e *KeywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedText(text)
	}
	return out, nil
}

func (e *KeywordEmbedder) embedText(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, word := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.dimension)] += 1.0
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(Normalize(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// EncodeEmbedding serializes a float32 vector to bytes for SQLite BLOB storage.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes bytes to a float32 vector.
func DecodeEmbedding(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
