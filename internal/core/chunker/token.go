package chunker

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultTokenEncoding = "cl100k_base"

// Token windows text by model tokens: chunks of size tokens, stepping by size - overlap.
type Token struct {
	enc     *tiktoken.Tiktoken
	size    int
	overlap int
}

// NewToken loads the tiktoken encoding. Loading may need network access for the BPE ranks,
// so callers should expect an error in offline deployments.
func NewToken(encoding string, size, overlap int) (*Token, error) {
	if encoding == "" {
		encoding = defaultTokenEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	size, overlap = normalize(size, overlap)
	return &Token{enc: enc, size: size, overlap: overlap}, nil
}

func (t *Token) Strategy() Strategy { return StrategyToken }

func (t *Token) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) == 0 {
		return nil, nil
	}

	// bounds[i] is the byte offset where token i starts.
	bounds := make([]int, len(ids)+1)
	for i, id := range ids {
		bounds[i+1] = bounds[i] + len(t.enc.Decode([]int{id}))
	}
	if bounds[len(ids)] != len(text) {
		return nil, fmt.Errorf("token byte spans cover %d of %d bytes", bounds[len(ids)], len(text))
	}

	var out []Chunk
	step := t.size - t.overlap
	for start := 0; start < len(ids); start += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+t.size, len(ids))
		bs, be := runeStart(text, bounds[start]), runeStart(text, bounds[end])
		if bs < be {
			runes := []rune(text[bs:be])
			if ch, ok := trimmedChunk(runes, 0, len(runes), utf8.RuneCountInString(text[:bs])); ok {
				out = append(out, ch)
			}
		}
		if end == len(ids) {
			break
		}
	}
	return out, nil
}

// runeStart moves a byte offset forward to the next rune boundary.
func runeStart(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
