// Package chunking cuts long document text into overlapping windows that fit
// a model prompt.
package chunking

import (
	"strings"
	"unicode"
)

type Splitter struct {
	ChunkSize int
	Overlap   int
	// MaxChunks caps the windows returned; zero means no cap. Text past the
	// last window is reported through Windows.Truncated.
	MaxChunks int
}

// Windows is one text cut into chunks.
type Windows struct {
	Chunks     []string
	TotalRunes int
	// CoveredRunes counts runes from the start of the text to the end of
	// the last chunk.
	CoveredRunes int
}

func (w Windows) Truncated() bool { return w.CoveredRunes < w.TotalRunes }

func NewSplitter(chunkSize, overlap, maxChunks int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 6000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if maxChunks < 0 {
		maxChunks = 0
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		MaxChunks: maxChunks,
	}
}

// Split returns the chunks of text and drops anything past MaxChunks.
func (s *Splitter) Split(text string) []string {
	return s.Windows(text).Chunks
}

// Windows measures sizes in runes and prefers to end a chunk at a line break,
// then at whitespace, in its last quarter.
func (s *Splitter) Windows(text string) Windows {
	runes := []rune(strings.TrimSpace(text))
	w := Windows{TotalRunes: len(runes)}
	if len(runes) == 0 {
		return w
	}
	if len(runes) <= s.ChunkSize {
		w.Chunks = []string{string(runes)}
		w.CoveredRunes = len(runes)
		return w
	}

	for start := 0; start < len(runes); {
		if s.MaxChunks > 0 && len(w.Chunks) == s.MaxChunks {
			break
		}
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.boundary(runes, start, end)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			w.Chunks = append(w.Chunks, chunk)
		}
		w.CoveredRunes = end
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return w
}

func (s *Splitter) boundary(runes []rune, start, end int) int {
	floor := end - s.ChunkSize/4
	if floor <= start {
		return end
	}
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
