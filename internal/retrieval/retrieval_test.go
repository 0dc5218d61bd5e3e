package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	idx, err := NewIndex(db)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestSplitPages(t *testing.T) {
	raw := "Cover text\n--- Page 1 ---\nNg\u00f4 Quy\u1ec1n  \u0111\u00e1nh\n\ttan qu\u00e2n Nam H\u00e1n.\u200b\n--- Page 2 ---\n   \n--- Page 3 ---\nTr\u1eadn B\u1ea1ch \u0110\u1eb1ng n\u0103m 938.\ufeff"
	pages := SplitPages(raw)
	if len(pages) != 3 {
		t.Fatalf("expected 3 non-empty pages, got %d: %+v", len(pages), pages)
	}
	if pages[0].Number != 0 || pages[0].Content != "Cover text" {
		t.Errorf("unexpected preamble page: %+v", pages[0])
	}
	if pages[1].Number != 1 || pages[1].Content != "Ngô Quyền đánh tan quân Nam Hán." {
		t.Errorf("unexpected page 1: %+v", pages[1])
	}
	if pages[2].Number != 3 || pages[2].Content != "Trận Bạch Đằng năm 938." {
		t.Errorf("unexpected page 3: %+v", pages[2])
	}

	if got := SplitPages("no markers at all"); len(got) != 1 || got[0].Number != 1 {
		t.Errorf("text without markers should be page 1, got %+v", got)
	}
	if got := SplitPages("  \n "); got != nil {
		t.Errorf("blank text should give no pages, got %+v", got)
	}
}

func TestNormalizeComposes(t *testing.T) {
	decomposed := "Ngo\u0302 Quye\u0302\u0300n"
	if got := Normalize(decomposed); got != "Ng\u00f4 Quy\u1ec1n" {
		t.Errorf("Normalize(%q) = %q", decomposed, got)
	}
}

func TestChunkerSplit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("The battle on the river was won by careful use of the tides. ")
	}
	text := strings.TrimSpace(sb.String())

	c := Chunker{Size: 200, Overlap: 40}
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch); n > 200 {
			t.Errorf("chunk %d has %d runes, limit 200", i, n)
		}
		if ch != strings.TrimSpace(ch) || ch == "" {
			t.Errorf("chunk %d not trimmed: %q", i, ch)
		}
	}
	for i := 0; i+1 < len(chunks); i++ {
		if !strings.HasSuffix(chunks[i], ".") {
			t.Errorf("chunk %d should end at a sentence boundary: %q", i, chunks[i])
		}
		firstWords := strings.Join(strings.Fields(chunks[i+1])[:2], " ")
		if !strings.Contains(chunks[i], firstWords) {
			t.Errorf("chunk %d should overlap with chunk %d (%q)", i, i+1, firstWords)
		}
	}
	if !strings.HasSuffix(chunks[len(chunks)-1], "tides.") {
		t.Error("last chunk should reach the end of the text")
	}
}

func TestChunkerShortAndUnbroken(t *testing.T) {
	c := Chunker{Size: 10, Overlap: 2}
	if got := c.Split("short"); len(got) != 1 || got[0] != "short" {
		t.Errorf("Split(short) = %q", got)
	}
	if got := c.Split("   "); got != nil {
		t.Errorf("Split(blank) = %q", got)
	}
	long := strings.Repeat("x", 35)
	got := c.Split(long)
	if strings.Join(got, "") == "" || len(got) < 4 {
		t.Errorf("unbroken text should be hard-cut, got %q", got)
	}
	for _, ch := range got {
		if len(ch) > 10 {
			t.Errorf("chunk too long: %q", ch)
		}
	}
}

func TestCosineAndEncoding(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	if got := CosineSimilarity(a, a); got < 0.999 {
		t.Errorf("cos(a, a) = %v", got)
	}
	if got := CosineSimilarity(a, b); got != 0 {
		t.Errorf("cos(a, b) = %v", got)
	}
	if got := CosineSimilarity(a, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths should give 0, got %v", got)
	}

	vec := []float32{0.25, -1.5, 3}
	dec := DecodeEmbedding(EncodeEmbedding(vec))
	for i := range vec {
		if dec[i] != vec[i] {
			t.Fatalf("decode mismatch at %d: %v vs %v", i, dec, vec)
		}
	}
	if DecodeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("odd-length blob should decode to nil")
	}
}

func TestKeywordEmbedder(t *testing.T) {
	e := NewKeywordEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"Ngô Quyền Bạch Đằng", "ngô quyền, bạch đằng!", "tides and rivers"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 || len(vecs[0]) != 64 {
		t.Fatalf("unexpected shape")
	}
	if got := CosineSimilarity(vecs[0], vecs[1]); got < 0.999 {
		t.Errorf("case and punctuation should not matter, cos = %v", got)
	}
	if CosineSimilarity(vecs[0], vecs[2]) >= CosineSimilarity(vecs[0], vecs[1]) {
		t.Error("unrelated text should score lower")
	}
}

const textbook = `--- Page 1 ---
Năm 938, Ngô Quyền lãnh đạo nhân dân đánh tan quân Nam Hán trên sông Bạch Đằng.
--- Page 2 ---
Năm 1077, Lý Thường Kiệt chỉ huy trận phòng tuyến sông Như Nguyệt chống quân Tống.
--- Page 3 ---
Năm 1428, Lê Lợi giành thắng lợi trong khởi nghĩa Lam Sơn.`

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	r := NewRetriever(newTestIndex(t), NewKeywordEmbedder(256), Options{})

	n, err := r.Ingest(ctx, "lichsu_4", "lichsu.txt", textbook)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 passages, got %d", n)
	}

	got, err := r.Retrieve(ctx, "Ai đánh tan quân Nam Hán trên sông Bạch Đằng?", "lichsu_4", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}
	if got[0].Page != 1 || !strings.Contains(got[0].Content, "Ngô Quyền") {
		t.Errorf("expected page 1 first, got %+v", got[0])
	}
	if got[0].Score < got[1].Score {
		t.Error("results should be ranked by score")
	}

	// Re-ingesting replaces instead of duplicating.
	if _, err := r.Ingest(ctx, "lichsu_4", "lichsu.txt", textbook); err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	count, err := r.Index().Count(ctx, "lichsu_4")
	if err != nil || count != 3 {
		t.Errorf("Count = %d, %v; want 3", count, err)
	}

	sources, err := r.Index().Sources(ctx)
	if err != nil || sources["lichsu_4"] != 3 {
		t.Errorf("Sources = %v, %v", sources, err)
	}
}

func TestRetrieveUnknownSourceIsEmpty(t *testing.T) {
	r := NewRetriever(newTestIndex(t), NewKeywordEmbedder(32), Options{})
	got, err := r.Retrieve(context.Background(), "anything", "missing", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no passages, got %d", len(got))
	}
	if _, err := r.Retrieve(context.Background(), "q", "", 3); err == nil {
		t.Error("expected error for empty source")
	}
}

type prefixRecorder struct {
	inner KeywordEmbedder
	seen  []string
}

func (p *prefixRecorder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.seen = append(p.seen, texts...)
	return p.inner.Embed(ctx, texts)
}

func TestPrefixes(t *testing.T) {
	rec := &prefixRecorder{inner: *NewKeywordEmbedder(16)}
	r := NewRetriever(newTestIndex(t), rec, Options{QueryPrefix: "query: ", PassagePrefix: "passage: "})
	ctx := context.Background()
	if _, err := r.Ingest(ctx, "s", "doc", "some text"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(ctx, "q", "s", 1); err != nil {
		t.Fatal(err)
	}
	if rec.seen[0] != "passage: some text" || rec.seen[1] != "query: q" {
		t.Errorf("unexpected embedder inputs %q", rec.seen)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestIngestErrors(t *testing.T) {
	ctx := context.Background()
	r := NewRetriever(newTestIndex(t), failingEmbedder{}, Options{})
	if _, err := r.Ingest(ctx, "s", "doc", "text"); err == nil || !strings.Contains(err.Error(), "embedding service down") {
		t.Errorf("expected embedder error, got %v", err)
	}
	if _, err := r.Ingest(ctx, "s", "doc", " \n "); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := r.Ingest(ctx, "", "doc", "text"); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestIngestKeepsOtherDocuments(t *testing.T) {
	ctx := context.Background()
	r := NewRetriever(newTestIndex(t), NewKeywordEmbedder(64), Options{})
	if _, err := r.Ingest(ctx, "books", "history.txt", "Ngô Quyền won in 938."); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Ingest(ctx, "books", "geography.txt", "--- Page 1 ---\nThe Red River.\n--- Page 2 ---\nThe Mekong."); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.Index().Count(ctx, "books"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	got, err := r.Retrieve(ctx, "Ngô Quyền", "books", 1)
	if err != nil || len(got) != 1 || got[0].Document != "history.txt" {
		t.Errorf("Retrieve = %+v, %v", got, err)
	}
}
