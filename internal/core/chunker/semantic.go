package chunker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

const (
	semanticBreakpointPercentile = 95
	semanticBatchSize            = 16
)

// Semantic places chunk boundaries where the embedding distance between adjacent sentences
// is in the top percentile. Groups longer than size*4 runes are re-split by character.
type Semantic struct {
	emb      core.Embedder
	maxRunes int
	long     *Character
}

func NewSemantic(emb core.Embedder, size, overlap int) (*Semantic, error) {
	if emb == nil {
		return nil, errors.New("semantic chunking needs an embedder")
	}
	size, overlap = normalize(size, overlap)
	return &Semantic{
		emb:      emb,
		maxRunes: size * 4,
		long:     NewCharacter(size*4, overlap*4),
	}, nil
}

func (s *Semantic) Strategy() Strategy { return StrategySemantic }

func (s *Semantic) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	runes := []rune(text)
	sents := splitSentences(runes)
	if len(sents) <= 1 {
		return s.long.split(runes, 0), nil
	}

	texts := make([]string, len(sents))
	for i, sp := range sents {
		texts[i] = string(runes[sp.start:sp.end])
	}
	vecs, err := s.emb.EmbedBatch(ctx, texts, semanticBatchSize)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}

	distances := make([]float64, len(sents)-1)
	for i := range distances {
		distances[i] = 1 - core.CosineSimilarity(vecs[i], vecs[i+1])
	}
	threshold := percentile(distances, semanticBreakpointPercentile)

	var out []Chunk
	groupStart := sents[0].start
	for i, sp := range sents {
		last := i == len(sents)-1
		if !last && distances[i] <= threshold {
			continue
		}
		if sp.end-groupStart > s.maxRunes {
			out = append(out, s.long.split(runes[groupStart:sp.end], groupStart)...)
		} else if ch, ok := trimmedChunk(runes, groupStart, sp.end, 0); ok {
			out = append(out, ch)
		}
		groupStart = sp.end
	}
	return out, nil
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
