package chunker

import (
	"context"
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Recursive splits on the coarsest separator first and only falls through to finer separators
// for pieces that are still larger than the chunk size. Pieces are then merged greedily back
// up to the chunk size, carrying roughly overlap runes into the next chunk. Sizes are in runes.
type Recursive struct {
	size       int
	overlap    int
	separators []string
}

func NewRecursive(size, overlap int) *Recursive {
	size, overlap = normalize(size, overlap)
	return &Recursive{size: size, overlap: overlap, separators: defaultSeparators}
}

func (r *Recursive) Strategy() Strategy { return StrategyRecursive }

func (r *Recursive) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	pieces := r.splitPieces(runes, span{0, len(runes)}, r.separators)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.merge(runes, pieces), nil
}

// splitPieces returns contiguous spans covering sp, each at most r.size runes long.
// A piece keeps its trailing separator.
func (r *Recursive) splitPieces(runes []rune, sp span, seps []string) []span {
	if sp.end-sp.start <= r.size {
		return []span{sp}
	}
	if len(seps) == 0 || seps[0] == "" {
		var out []span
		for s := sp.start; s < sp.end; s += r.size {
			out = append(out, span{s, min(s+r.size, sp.end)})
		}
		return out
	}

	sep := []rune(seps[0])
	var parts []span
	start := sp.start
	for i := sp.start; i+len(sep) <= sp.end; i++ {
		if hasPrefixAt(runes, i, sep) {
			parts = append(parts, span{start, i + len(sep)})
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	if start < sp.end {
		parts = append(parts, span{start, sp.end})
	}
	if len(parts) <= 1 {
		return r.splitPieces(runes, sp, seps[1:])
	}

	var out []span
	for _, p := range parts {
		if p.end-p.start > r.size {
			out = append(out, r.splitPieces(runes, p, seps[1:])...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// merge joins adjacent pieces into chunks of at most r.size runes.
func (r *Recursive) merge(runes []rune, pieces []span) []Chunk {
	var (
		out     []Chunk
		window  []span
		total   int
		pending bool
	)
	emit := func() {
		if !pending || len(window) == 0 {
			return
		}
		if ch, ok := trimmedChunk(runes, window[0].start, window[len(window)-1].end, 0); ok {
			out = append(out, ch)
		}
		pending = false
	}

	for _, p := range pieces {
		l := p.end - p.start
		if total+l > r.size && len(window) > 0 {
			emit()
			// Drop from the front until what's left fits the overlap budget and leaves room for p.
			for len(window) > 0 && (total > r.overlap || total+l > r.size) {
				total -= window[0].end - window[0].start
				window = window[1:]
			}
		}
		window = append(window, p)
		total += l
		pending = true
	}
	emit()
	return out
}

func hasPrefixAt(runes []rune, i int, prefix []rune) bool {
	if i+len(prefix) > len(runes) {
		return false
	}
	for k, pr := range prefix {
		if runes[i+k] != pr {
			return false
		}
	}
	return true
}
