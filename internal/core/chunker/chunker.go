// Package chunker splits extracted text into overlapping segments for embedding.
//
// Every strategy returns chunks in source order. A chunk's Offset is the rune offset of its
// Text inside the source, so Text always equals the rune slice source[Offset:Offset+len(Text)].
package chunker

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

// Strategy names a chunking algorithm.
type Strategy string

const (
	StrategySentence  Strategy = "sentence"
	StrategySemantic  Strategy = "semantic"
	StrategyRecursive Strategy = "recursive"
	StrategyToken     Strategy = "token"
	StrategyCharacter Strategy = "character"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategySentence, StrategySemantic, StrategyRecursive, StrategyToken, StrategyCharacter:
		return st, nil
	}
	return "", fmt.Errorf("unknown chunk strategy %q", s)
}

// Chunk is one segment of source text.
type Chunk struct {
	Text   string
	Offset int
}

// Chunker produces chunks from text.
type Chunker interface {
	Strategy() Strategy
	Chunk(ctx context.Context, text string) ([]Chunk, error)
}

// Options configures strategy selection.
//
// ChunkSize/ChunkOverlap: runes for character and recursive, approximate tokens for sentence
// and semantic, model tokens for token.
// TokenEncoding: tiktoken encoding name for the token strategy.
// Embedder:      required by the semantic strategy.
type Options struct {
	Strategy      Strategy
	ChunkSize     int
	ChunkOverlap  int
	TokenEncoding string
	Embedder      core.Embedder
}

// New builds the configured strategy. When it cannot be constructed the character fallback
// is returned instead and a warning is logged.
func New(opts Options) Chunker {
	c, err := build(opts)
	if err != nil {
		log.Warn().Err(err).Str("strategy", string(opts.Strategy)).Msg("chunk strategy unavailable, using character fallback")
		return NewCharacter(opts.ChunkSize, opts.ChunkOverlap)
	}
	return c
}

func build(opts Options) (Chunker, error) {
	switch opts.Strategy {
	case StrategyCharacter, "":
		return NewCharacter(opts.ChunkSize, opts.ChunkOverlap), nil
	case StrategySentence:
		return NewSentence(opts.ChunkSize, opts.ChunkOverlap), nil
	case StrategyRecursive:
		return NewRecursive(opts.ChunkSize, opts.ChunkOverlap), nil
	case StrategyToken:
		t, err := NewToken(opts.TokenEncoding, opts.ChunkSize, opts.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		return t, nil
	case StrategySemantic:
		s, err := NewSemantic(opts.Embedder, opts.ChunkSize, opts.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown chunk strategy %q", opts.Strategy)
}

// normalize clamps size/overlap so that size > overlap >= 0.
func normalize(size, overlap int) (int, int) {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return size, overlap
}

// span is a half-open rune range.
type span struct {
	start, end int
}

// trimmedChunk returns runes[start:end] with surrounding whitespace removed and the offset
// moved accordingly. ok is false when nothing but whitespace remains.
func trimmedChunk(runes []rune, start, end, base int) (Chunk, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start >= end {
		return Chunk{}, false
	}
	return Chunk{Text: string(runes[start:end]), Offset: base + start}, true
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(runeCount int) int {
	if runeCount <= 0 {
		return 0
	}
	return (runeCount + 3) / 4
}

// splitSentences partitions runes into contiguous sentence spans. Each span keeps the
// whitespace that follows its terminator.
func splitSentences(runes []rune) []span {
	var out []span
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		boundary := false
		switch {
		case r == '.' || r == '!' || r == '?':
			boundary = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		case r == '。' || r == '！' || r == '？':
			boundary = true
		case r == '\n':
			boundary = i+1 < len(runes) && runes[i+1] == '\n'
		}
		if !boundary {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, span{start: start, end: j})
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, span{start: start, end: len(runes)})
	}
	return out
}
