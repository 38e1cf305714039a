// Package rag retrieves knowledge-base context for the chat pipeline and
// keeps the vector index in step with the notes it is built from.
package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the note chunker.
type ChunkerConfig struct {
	ChunkSize    int // Target chunk size in characters (default 1000)
	ChunkOverlap int // Overlap between chunks (default 100)
	// Threshold is the note length above which notes are chunked at all.
	// Shorter notes are embedded whole (default 5000).
	Threshold int
}

// DefaultChunkerConfig returns the chunking used for notes.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    1000,
		ChunkOverlap: 100,
		Threshold:    5000,
	}
}

// Chunk holds a single chunk of note text with its position.
type Chunk struct {
	Text  string `json:"text"`
	Index int    `json:"index"` // 0-based chunk index
}

// separators are tried in order: markdown headings, paragraphs, lines,
// sentences, words, then single characters.
var separators = []string{"\n## ", "\n### ", "\n\n", "\n", ". ", " ", ""}

// ChunkText splits text into overlapping chunks. Text not longer than the
// threshold comes back as a single chunk.
func ChunkText(text string, cfg ChunkerConfig) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = cfg.ChunkSize
	}

	if utf8.RuneCountInString(text) <= cfg.Threshold {
		return []Chunk{{Text: text}}
	}

	parts := split(text, separators, cfg.ChunkSize, cfg.ChunkOverlap)
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: p, Index: len(chunks)})
	}
	return chunks
}

// split splits text recursively, trying each separator in turn, then
// merges the pieces back into chunks of at most size runes.
func split(text string, seps []string, size, overlap int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	sep, rest := "", []string(nil)
	var pieces []string
	for i, s := range seps {
		if s == "" {
			pieces = splitByRunes(text, size)
			break
		}
		if parts := strings.Split(text, s); len(parts) > 1 {
			sep, pieces, rest = s, parts, seps[i+1:]
			break
		}
	}
	if len(pieces) == 0 {
		return []string{text}
	}

	// Pieces still too large go one separator level deeper.
	var fitted []string
	for _, p := range pieces {
		if utf8.RuneCountInString(p) > size && len(rest) > 0 {
			fitted = append(fitted, split(p, rest, size, overlap)...)
			continue
		}
		fitted = append(fitted, p)
	}

	var out []string
	var current strings.Builder
	for _, p := range fitted {
		n := utf8.RuneCountInString(current.String())
		if current.Len() > 0 && n+utf8.RuneCountInString(sep)+utf8.RuneCountInString(p) > size {
			out = append(out, current.String())
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" && utf8.RuneCountInString(tail)+utf8.RuneCountInString(p) <= size {
				current.WriteString(tail)
				current.WriteString(sep)
			}
		} else if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := min(i+n, len(runes))
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
