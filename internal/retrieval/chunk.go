package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var pageMarkerRegex = regexp.MustCompile(`--- Page (\d+) ---`)

// Page is one page of OCR output.
type Page struct {
	Number  int
	Content string
}

// SplitPages splits OCR text on "--- Page N ---" markers and normalizes each
// page. Text before the first marker is page 0. Text without any marker is
// a single page 1. Empty pages are dropped.
func SplitPages(raw string) []Page {
	locs := pageMarkerRegex.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		if content := Normalize(raw); content != "" {
			return []Page{{Number: 1, Content: content}}
		}
		return nil
	}

	var pages []Page
	if content := Normalize(raw[:locs[0][0]]); content != "" {
		pages = append(pages, Page{Number: 0, Content: content})
	}
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := Normalize(raw[loc[1]:end])
		if content == "" {
			continue
		}
		n, _ := strconv.Atoi(raw[loc[2]:loc[3]])
		pages = append(pages, Page{Number: n, Content: content})
	}
	return pages
}

// Normalize applies NFC, strips zero-width characters and collapses whitespace.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.NewReplacer("\u200b", "", "\ufeff", "").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Chunker splits normalized text into overlapping windows, measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// DefaultChunker matches the chunking the passage index was tuned with.
var DefaultChunker = Chunker{Size: 900, Overlap: 120}

// Split returns chunks of at most Size runes. A chunk ends at a sentence
// boundary when one lies in its second half, otherwise at a space, otherwise
// mid-word. Consecutive chunks overlap by about Overlap runes, starting on a
// word boundary.
func (c Chunker) Split(text string) []string {
	size := c.Size
	if size <= 0 {
		size = DefaultChunker.Size
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = appendChunk(chunks, runes[start:])
			break
		}

		cut := breakPoint(runes, start, end)
		chunks = appendChunk(chunks, runes[start:cut])

		next := wordStart(runes, cut-overlap, cut)
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func appendChunk(chunks []string, runes []rune) []string {
	if s := strings.TrimSpace(string(runes)); s != "" {
		return append(chunks, s)
	}
	return chunks
}

// breakPoint picks the exclusive end of a chunk in runes[start:end].
func breakPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end - 1; i > floor; i-- {
		if runes[i] == ' ' && isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == ';'
}

// wordStart moves from forward to the first rune that follows a space,
// without reaching limit.
func wordStart(runes []rune, from, limit int) int {
	if from <= 0 {
		return 0
	}
	for i := from; i < limit; i++ {
		if unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return from
}
