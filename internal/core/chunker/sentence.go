package chunker

import (
	"context"
)

// Sentence groups whole sentences into token-bounded chunks with optional overlap.
//
// targetTokens:  approximate tokens per chunk.
// overlapTokens: tokens to retain from the end of the previous chunk as seed of the next.
// long:          splits a single sentence that alone exceeds targetTokens.
type Sentence struct {
	targetTokens  int
	overlapTokens int
	long          *Character
}

func NewSentence(targetTokens, overlapTokens int) *Sentence {
	targetTokens, overlapTokens = normalize(targetTokens, overlapTokens)
	return &Sentence{
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		long:          NewCharacter(targetTokens*4, overlapTokens*4),
	}
}

func (s *Sentence) Strategy() Strategy { return StrategySentence }

func (s *Sentence) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	runes := []rune(text)

	var (
		out    []Chunk
		buf    []span // rolling sentence buffer
		tokSum int    // estimated tokens in the buffer
		fresh  int    // sentences in buf not yet emitted
	)

	// flush emits the buffer as one chunk and keeps a tail worth ~overlapTokens as the seed
	// of the next chunk. The tail never holds the whole buffer.
	flush := func() {
		if fresh == 0 {
			return
		}
		if ch, ok := trimmedChunk(runes, buf[0].start, buf[len(buf)-1].end, 0); ok {
			out = append(out, ch)
		}
		fresh = 0

		keepFrom := len(buf)
		remain := s.overlapTokens
		for j := len(buf) - 1; j >= 1 && remain > 0; j-- {
			remain -= approxTokens(buf[j].end - buf[j].start)
			keepFrom = j
		}
		buf = append(buf[:0], buf[keepFrom:]...)
		tokSum = 0
		for _, sp := range buf {
			tokSum += approxTokens(sp.end - sp.start)
		}
	}

	for _, sp := range splitSentences(runes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := approxTokens(sp.end - sp.start)

		if t > s.targetTokens {
			flush()
			buf, tokSum = buf[:0], 0
			out = append(out, s.long.split(runes[sp.start:sp.end], sp.start)...)
			continue
		}

		if tokSum+t > s.targetTokens {
			flush()
			// The overlap seed gives way, oldest first, when it and t do not fit together.
			for len(buf) > 0 && tokSum+t > s.targetTokens {
				tokSum -= approxTokens(buf[0].end - buf[0].start)
				buf = buf[1:]
			}
		}
		buf = append(buf, sp)
		tokSum += t
		fresh++
	}
	flush()
	return out, nil
}
