package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "The quick brown fox jumps over the lazy dog. It was a sunny day! " +
	"Was anyone watching? Nobody knows.\n\nA new paragraph begins here. It talks about " +
	"something else entirely, like databases and vectors.\nAnother line follows. " +
	"Unicode works too: naïve café résumé. Done."

// checkChunks asserts the properties every strategy must satisfy.
func checkChunks(t *testing.T, source string, chunks []Chunk) {
	t.Helper()
	runes := []rune(source)
	prev := -1
	for i, ch := range chunks {
		n := len([]rune(ch.Text))
		require.NotZero(t, n, "chunk %d is empty", i)
		require.GreaterOrEqual(t, ch.Offset, 0)
		require.LessOrEqual(t, ch.Offset+n, len(runes), "chunk %d overruns source", i)
		assert.Equal(t, string(runes[ch.Offset:ch.Offset+n]), ch.Text, "chunk %d text does not match its offset", i)
		assert.GreaterOrEqual(t, ch.Offset, prev, "offsets must be non-decreasing")
		prev = ch.Offset
	}
}

// uncovered returns the non-whitespace runes of source that no chunk covers.
func uncovered(source string, chunks []Chunk) []rune {
	runes := []rune(source)
	seen := make([]bool, len(runes))
	for _, ch := range chunks {
		for i := ch.Offset; i < ch.Offset+len([]rune(ch.Text)); i++ {
			seen[i] = true
		}
	}
	var out []rune
	for i, r := range runes {
		if !seen[i] && !strings.ContainsRune(" \n\t", r) {
			out = append(out, r)
		}
	}
	return out
}

func TestStrategies(t *testing.T) {
	long := strings.Repeat(sample+" ", 12)
	strategies := []Chunker{
		NewCharacter(80, 20),
		NewSentence(20, 5),
		NewRecursive(80, 20),
		NewCharacter(1000, 200),
	}
	for _, c := range strategies {
		t.Run(string(c.Strategy()), func(t *testing.T) {
			for _, src := range []string{sample, long} {
				chunks, err := c.Chunk(context.Background(), src)
				require.NoError(t, err)
				require.NotEmpty(t, chunks)
				checkChunks(t, src, chunks)
				assert.Empty(t, uncovered(src, chunks))
			}
		})
	}
}

func TestChunk_EmptyText(t *testing.T) {
	for _, c := range []Chunker{NewCharacter(100, 10), NewSentence(100, 10), NewRecursive(100, 10)} {
		chunks, err := c.Chunk(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, chunks, c.Strategy())

		chunks, err = c.Chunk(context.Background(), " \n\n\t ")
		require.NoError(t, err)
		assert.Empty(t, chunks, c.Strategy())
	}
}

func TestCharacter_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := NewCharacter(1000, 200).Chunk(context.Background(), "short text")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Text: "short text", Offset: 0}, chunks[0])
}

func TestCharacter_PrefersSentenceBoundary(t *testing.T) {
	text := "Alpha beta gamma delta. Epsilon zeta eta theta iota kappa."
	chunks, err := NewCharacter(26, 0).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "Alpha beta gamma delta.", chunks[0].Text)
	checkChunks(t, text, chunks)
}

func TestCharacter_ForwardProgressWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks, err := NewCharacter(100, 99).Chunk(context.Background(), text)
	require.NoError(t, err)
	checkChunks(t, text, chunks)
	assert.Empty(t, uncovered(text, chunks))
	assert.Equal(t, 250, chunks[len(chunks)-1].Offset+len(chunks[len(chunks)-1].Text))
}

func TestSentence_OversizedSentenceIsSplit(t *testing.T) {
	text := "Short one. " + strings.Repeat("word ", 100) + "end. Tail sentence."
	chunks, err := NewSentence(10, 2).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	checkChunks(t, text, chunks)
	assert.Empty(t, uncovered(text, chunks))
}

func TestSentence_OverlapStaysWithinBudget(t *testing.T) {
	var b strings.Builder
	for n := range 40 {
		words := 2 + (n*7)%11
		b.WriteString(strings.TrimSpace(strings.Repeat("lorem ", words)))
		b.WriteString(". ")
	}
	text := b.String()

	for _, overlap := range []int{0, 5, 15, 19} {
		chunks, err := NewSentence(20, overlap).Chunk(context.Background(), text)
		require.NoError(t, err)
		checkChunks(t, text, chunks)
		assert.Empty(t, uncovered(text, chunks))
		for _, ch := range chunks {
			assert.LessOrEqual(t, approxTokens(len([]rune(ch.Text))), 20, "overlap %d: %q", overlap, ch.Text)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	runes := []rune("One. Two! Three? 四。Five\n\nSix")
	spans := splitSentences(runes)
	var got []string
	for _, sp := range spans {
		got = append(got, string(runes[sp.start:sp.end]))
	}
	assert.Equal(t, []string{"One. ", "Two! ", "Three? ", "四。", "Five\n\n", "Six"}, got)
}

func TestRecursive_KeepsParagraphsTogether(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	chunks, err := NewRecursive(30, 0).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Second paragraph here.", chunks[1].Text)
	checkChunks(t, text, chunks)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Sentence ")
	require.NoError(t, err)
	assert.Equal(t, StrategySentence, s)

	_, err = ParseStrategy("paragraph")
	assert.Error(t, err)
}

func TestNew_FallsBackToCharacter(t *testing.T) {
	c := New(Options{Strategy: StrategySemantic, ChunkSize: 100})
	assert.Equal(t, StrategyCharacter, c.Strategy())

	c = New(Options{Strategy: "bogus", ChunkSize: 100})
	assert.Equal(t, StrategyCharacter, c.Strategy())

	c = New(Options{Strategy: StrategyRecursive, ChunkSize: 100})
	assert.Equal(t, StrategyRecursive, c.Strategy())
}

func TestNormalize(t *testing.T) {
	size, overlap := normalize(0, -5)
	assert.Equal(t, 1000, size)
	assert.Equal(t, 0, overlap)

	size, overlap = normalize(10, 50)
	assert.Equal(t, 10, size)
	assert.Equal(t, 9, overlap)
}

// topicEmbedder maps sentences mentioning "cat" and "database" to orthogonal vectors.
type topicEmbedder struct {
	fail bool
}

func (e *topicEmbedder) vec(text string) []float32 {
	switch {
	case strings.Contains(text, "cat"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "database"):
		return []float32{0, 1, 0}
	}
	return []float32{0, 0, 1}
}

func (e *topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("down")
	}
	return e.vec(text), nil
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		v, err := e.Embed(ctx, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) Dimension() int { return 3 }

func TestSemantic_BreaksOnTopicShift(t *testing.T) {
	text := "The cat sat. The cat slept. The cat purred. The database crashed. The database recovered."
	s, err := NewSemantic(&topicEmbedder{}, 1000, 0)
	require.NoError(t, err)

	chunks, err := s.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "The cat sat. The cat slept. The cat purred.", chunks[0].Text)
	assert.Equal(t, "The database crashed. The database recovered.", chunks[1].Text)
	checkChunks(t, text, chunks)
}

func TestSemantic_EmbedderError(t *testing.T) {
	s, err := NewSemantic(&topicEmbedder{fail: true}, 1000, 0)
	require.NoError(t, err)
	_, err = s.Chunk(context.Background(), "One cat. Two database.")
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 95))
	assert.InDelta(t, 9.55, percentile([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 95.5), 1e-9)
	assert.Equal(t, 3.0, percentile([]float64{3}, 95))
}
