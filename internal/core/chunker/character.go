package chunker

import (
	"context"
	"strings"
	"unicode"
)

// Character is the boundary-aware fallback strategy. It has no external dependencies and is
// always available. Sizes are in runes.
type Character struct {
	size    int
	overlap int
}

// NewCharacter returns the character strategy. size and overlap are clamped to size > overlap >= 0.
func NewCharacter(size, overlap int) *Character {
	size, overlap = normalize(size, overlap)
	return &Character{size: size, overlap: overlap}
}

func (c *Character) Strategy() Strategy { return StrategyCharacter }

func (c *Character) Chunk(_ context.Context, text string) ([]Chunk, error) {
	return c.split([]rune(text), 0), nil
}

// split cuts runes into chunks, adding base to every offset. Each window of size runes is cut
// at the last sentence terminator, paragraph break, line break or word boundary found past
// 80% of the window, in that order of preference.
func (c *Character) split(runes []rune, base int) []Chunk {
	n := len(runes)
	var out []Chunk
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			if ch, ok := rawChunk(runes, start, n, base); ok {
				out = append(out, ch)
			}
			break
		}

		cut := findBoundary(runes, start+c.size*8/10, end)
		if cut <= start {
			cut = end
		}
		if ch, ok := rawChunk(runes, start, cut, base); ok {
			out = append(out, ch)
		}

		next := cut - c.overlap
		if next < start+1 {
			next = start + 1
		}
		start = snapToWord(runes, next, cut)
	}
	return out
}

// rawChunk keeps the exact span; it only drops spans that are whitespace after trimming.
func rawChunk(runes []rune, start, end, base int) (Chunk, bool) {
	text := string(runes[start:end])
	if strings.TrimSpace(text) == "" {
		return Chunk{}, false
	}
	return Chunk{Text: text, Offset: base + start}, true
}

// findBoundary searches backwards in [lo, end) and returns the cut position just after the
// best boundary, or -1.
func findBoundary(runes []rune, lo, end int) int {
	if lo < 0 {
		lo = 0
	}
	isTerminator := func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '。' }

	for i := end - 1; i >= lo; i-- {
		if isTerminator(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	for i := end - 2; i >= lo; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 1; i >= lo; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return -1
}

// snapToWord moves pos forward to the start of the next word when it lands mid-word and a
// word boundary exists before limit.
func snapToWord(runes []rune, pos, limit int) int {
	if pos <= 0 || pos >= len(runes) || unicode.IsSpace(runes[pos-1]) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return pos
}
