package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/core/chunker"
	db "github.com/markdave123-py/knowledge-mcp/internal/core/database"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

const testDim = 256

// wordEmbedder hashes lower-cased words into a fixed-size bag-of-words vector.
type wordEmbedder struct {
	err error
}

func (e *wordEmbedder) vec(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	return v
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec(text), nil
}

func (e *wordEmbedder) EmbedBatch(ctx context.Context, texts []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) Dimension() int { return testDim }

// pdfExtractor treats .pdf bytes as plain text and defers everything else to the real extractor.
type pdfExtractor struct {
	next *Extractor
}

func (p pdfExtractor) Extract(ctx context.Context, data []byte, ext string) (*core.ExtractedText, error) {
	if normalizeExt(ext) == "pdf" {
		return &core.ExtractedText{Title: "Report", Text: string(data)}, nil
	}
	return p.next.Extract(ctx, data, ext)
}

// recordingArchive remembers uploaded and removed keys; fail makes every upload error.
type recordingArchive struct {
	mu      sync.Mutex
	keys    []string
	removed []string
	fail    bool
}

func (a *recordingArchive) UploadFile(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	_, _ = io.Copy(io.Discard, data)
	a.mu.Lock()
	a.keys = append(a.keys, key)
	a.mu.Unlock()
	return "https://bucket.example/" + key, nil
}

func (a *recordingArchive) DeleteFile(_ context.Context, key string) error {
	a.mu.Lock()
	a.removed = append(a.removed, key)
	a.mu.Unlock()
	return nil
}

func (a *recordingArchive) DeletePrefix(context.Context, string) error { return nil }
func (a *recordingArchive) GetFile(context.Context, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

type fixture struct {
	store    *db.MemoryClient
	embedder *wordEmbedder
	ingestor *DocumentIngestor
}

func newFixture(t *testing.T, archive core.ObjectClient) *fixture {
	t.Helper()
	store := db.NewMemoryClient()
	emb := &wordEmbedder{}
	ing := NewDocumentIngestor(store, archive, emb, pdfExtractor{next: NewExtractor(false)}, &IngestConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		Strategy:     chunker.StrategyCharacter,
		TopK:         5,
	})
	_, err := store.CreateKnowledgeSet(t.Context(), "alice", "docs")
	require.NoError(t, err)
	return &fixture{store: store, embedder: emb, ingestor: ing}
}

func TestIngest_NewFileThenQuery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	res, err := f.ingestor.Ingest(ctx, "alice", "docs", "fox.txt", []byte("The quick brown fox jumps over the lazy dog."))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNewFile, res.Outcome)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.False(t, res.IsDuplicate)
	assert.Nil(t, res.ExistingFileID)
	assert.Contains(t, res.Message, "fox.txt")

	matches, err := f.ingestor.Query(ctx, "alice", "docs", "fox jumping", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.FileID, matches[0].FileID)
	assert.Equal(t, res.FileID+"_chunk_0", matches[0].ChunkID)
	assert.Greater(t, matches[0].Score, 0.0)
	assert.Less(t, matches[0].Score, 1.0)
	assert.Equal(t, 0, matches[0].Metadata.Offset)
	assert.Equal(t, "character", matches[0].Metadata.Extra["strategy"])
}

func TestIngest_DuplicateContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	data := []byte("Shared body text that appears twice.")

	first, err := f.ingestor.Ingest(ctx, "alice", "docs", "a.txt", data)
	require.NoError(t, err)

	dup, err := f.ingestor.Ingest(ctx, "alice", "docs", "b.txt", data)
	require.NoError(t, err)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, models.OutcomeDuplicate, dup.Outcome)
	require.NotNil(t, dup.ExistingFileID)
	assert.Equal(t, first.FileID, *dup.ExistingFileID)
	assert.Equal(t, first.FileID, dup.FileID)
	assert.Equal(t, "a.txt", dup.Filename)
	assert.Equal(t, first.ChunksCreated, dup.ChunksCreated)

	files, err := f.store.ListFiles(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestIngest_VersionsAreMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	var ids []string
	for n := 1; n <= 3; n++ {
		res, err := f.ingestor.Ingest(ctx, "alice", "docs", "notes.md", []byte(fmt.Sprintf("# Notes\n\nRevision number %d of the notes.", n)))
		require.NoError(t, err)
		assert.Equal(t, n, res.Version)
		if n > 1 {
			assert.Equal(t, models.OutcomeNewVersion, res.Outcome)
		}
		ids = append(ids, res.FileID)
	}

	latest, err := f.store.GetLatestVersionInfo(ctx, "alice", "docs", "notes.md")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ids[2], latest.FileID)
	require.NotNil(t, latest.Metadata.PreviousVersionFileID)
	assert.Equal(t, ids[1], *latest.Metadata.PreviousVersionFileID)
	assert.Equal(t, "Notes", latest.Metadata.Title)

	for _, old := range ids[:2] {
		n, err := f.store.CountChunksForFile(ctx, "alice", "docs", old)
		require.NoError(t, err)
		assert.Zero(t, n, "superseded version %s keeps no chunks", old)
	}

	matches, err := f.ingestor.Query(ctx, "alice", "docs", "revision", 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, ids[2], m.FileID)
	}
}

func TestIngest_OldContentUnderSameNameIsANewVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	_, err := f.ingestor.Ingest(ctx, "alice", "docs", "a.txt", []byte("first body"))
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(ctx, "alice", "docs", "a.txt", []byte("second body"))
	require.NoError(t, err)

	res, err := f.ingestor.Ingest(ctx, "alice", "docs", "a.txt", []byte("first body"))
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, 3, res.Version)
}

func TestIngest_PDFWithArchive(t *testing.T) {
	archive := &recordingArchive{}
	f := newFixture(t, archive)
	ctx := t.Context()

	res, err := f.ingestor.Ingest(ctx, "alice", "docs", "report.pdf", []byte("Quarterly revenue grew. Costs fell."))
	require.NoError(t, err)
	require.Len(t, archive.keys, 1)
	assert.Equal(t, "users/alice/knowledge-sets/docs/"+res.FileID+"/report.pdf", archive.keys[0])

	rec, err := f.store.GetFile(ctx, "alice", "docs", res.FileID)
	require.NoError(t, err)
	assert.Equal(t, "Report", rec.Metadata.Title)
	assert.Equal(t, "https://bucket.example/"+archive.keys[0], rec.Metadata.Extra["storage_url"])
	assert.Equal(t, "pdf", rec.Metadata.Extra["extension"])
	assert.Equal(t, ContentHash([]byte("Quarterly revenue grew. Costs fell.")), rec.Metadata.ContentHash)
}

// createFailingStore rejects every file record.
type createFailingStore struct {
	*db.MemoryClient
}

func (createFailingStore) CreateFile(context.Context, string, string, string, models.FileMetadata) (*models.FileRecord, error) {
	return nil, &core.StoreError{Op: "create file", Err: errors.New("disk full")}
}

func TestIngest_RecordFailureRemovesArchivedObject(t *testing.T) {
	mem := db.NewMemoryClient()
	_, err := mem.CreateKnowledgeSet(t.Context(), "alice", "docs")
	require.NoError(t, err)
	archive := &recordingArchive{}
	ing := NewDocumentIngestor(createFailingStore{mem}, archive, &wordEmbedder{}, NewExtractor(false), &IngestConfig{ChunkSize: 200, ChunkOverlap: 20})

	_, err = ing.Ingest(t.Context(), "alice", "docs", "a.txt", []byte("never recorded"))
	require.Error(t, err)
	assert.Equal(t, core.KindStore, core.KindOf(err))
	require.Len(t, archive.keys, 1)
	assert.Equal(t, archive.keys, archive.removed)
}

func TestIngest_ArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, &recordingArchive{fail: true})

	res, err := f.ingestor.Ingest(t.Context(), "alice", "docs", "a.txt", []byte("still ingested"))
	require.NoError(t, err)

	rec, err := f.store.GetFile(t.Context(), "alice", "docs", res.FileID)
	require.NoError(t, err)
	assert.NotContains(t, rec.Metadata.Extra, "storage_url")
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		set      string
		filename string
		data     []byte
		embedErr error
		wantKind string
	}{
		{name: "missing owner", owner: "", set: "docs", filename: "a.txt", data: []byte("x"), wantKind: core.KindAuthentication},
		{name: "missing set id", owner: "alice", set: "", filename: "a.txt", data: []byte("x"), wantKind: core.KindInvalidArgument},
		{name: "no extension", owner: "alice", set: "docs", filename: "README", data: []byte("x"), wantKind: core.KindInvalidArgument},
		{name: "unknown set", owner: "alice", set: "nope", filename: "a.txt", data: []byte("x"), wantKind: core.KindNotFound},
		{name: "other owner's set", owner: "bob", set: "docs", filename: "a.txt", data: []byte("x"), wantKind: core.KindNotFound},
		{name: "unsupported extension", owner: "alice", set: "docs", filename: "a.bin", data: []byte{0, 1, 2}, wantKind: core.KindExtraction},
		{name: "empty text", owner: "alice", set: "docs", filename: "a.txt", data: []byte("   \n"), wantKind: core.KindExtraction},
		{
			name: "embedding rejected", owner: "alice", set: "docs", filename: "a.txt", data: []byte("hello"),
			embedErr: &core.EmbeddingError{Kind: core.EmbeddingAuthError, Provider: "fake", Attempts: 1, Err: errors.New("401")},
			wantKind: core.KindEmbedding,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.embedder.err = tt.embedErr

			_, err := f.ingestor.Ingest(t.Context(), tt.owner, tt.set, tt.filename, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, core.KindOf(err))
		})
	}
}

func TestIngest_ExtractionFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ingestor.Ingest(t.Context(), "alice", "docs", "bad.txt", []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)

	files, err := f.store.ListFiles(t.Context(), "alice", "docs")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngest_ConcurrentSameFilename(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	var wg sync.WaitGroup
	results := make([]*models.IngestResult, 4)
	errs := make([]error, 4)
	for n := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = f.ingestor.Ingest(ctx, "alice", "docs", "race.txt", []byte(fmt.Sprintf("body %d", n)))
		}(n)
	}
	wg.Wait()

	versions := map[int]bool{}
	for n := range results {
		require.NoError(t, errs[n])
		versions[results[n].Version] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true}, versions)

	files, err := f.store.ListFiles(ctx, "alice", "docs")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 4, files[0].Metadata.Version)
}

// slowExtractor widens the window between the duplicate check and the record write.
type slowExtractor struct {
	delay time.Duration
	next  core.DocumentExtractor
}

func (s slowExtractor) Extract(ctx context.Context, data []byte, ext string) (*core.ExtractedText, error) {
	time.Sleep(s.delay)
	return s.next.Extract(ctx, data, ext)
}

func newSlowIngestor(t *testing.T) (*db.MemoryClient, *DocumentIngestor) {
	t.Helper()
	store := db.NewMemoryClient()
	_, err := store.CreateKnowledgeSet(t.Context(), "alice", "docs")
	require.NoError(t, err)
	ing := NewDocumentIngestor(store, nil, &wordEmbedder{}, slowExtractor{delay: 20 * time.Millisecond, next: NewExtractor(false)}, &IngestConfig{ChunkSize: 200, ChunkOverlap: 20})
	return store, ing
}

// ingestAll uploads the same bytes under every filename at once.
func ingestAll(t *testing.T, ing *DocumentIngestor, data []byte, filenames ...string) map[string]*models.IngestResult {
	t.Helper()
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = map[string]*models.IngestResult{}
	)
	for _, name := range filenames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ing.Ingest(t.Context(), "alice", "docs", name, data)
			assert.NoError(t, err, name)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func TestIngest_ConcurrentSameContentDifferentNames(t *testing.T) {
	store, ing := newSlowIngestor(t)

	results := ingestAll(t, ing, []byte("shared body text"), "a.txt", "b.txt")
	require.Len(t, results, 2)
	require.NotNil(t, results["a.txt"])
	require.NotNil(t, results["b.txt"])

	assert.NotEqual(t, results["a.txt"].IsDuplicate, results["b.txt"].IsDuplicate, "exactly one upload is a duplicate")
	files, err := store.ListFiles(t.Context(), "alice", "docs")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestIngest_ConcurrentDuplicateNeverSupersedes(t *testing.T) {
	store, ing := newSlowIngestor(t)
	ctx := t.Context()

	v1, err := ing.Ingest(ctx, "alice", "docs", "a.txt", []byte("first draft"))
	require.NoError(t, err)

	results := ingestAll(t, ing, []byte("second draft"), "a.txt", "c.txt")
	require.NotNil(t, results["a.txt"])
	require.NotNil(t, results["c.txt"])

	latest, err := store.GetLatestVersionInfo(ctx, "alice", "docs", "a.txt")
	require.NoError(t, err)
	require.NotNil(t, latest, "a.txt must keep a latest version")

	if results["a.txt"].IsDuplicate {
		// c.txt won: a.txt v1 is untouched and still searchable.
		assert.False(t, results["c.txt"].IsDuplicate)
		assert.Equal(t, v1.FileID, latest.FileID)
		n, err := store.CountChunksForFile(ctx, "alice", "docs", v1.FileID)
		require.NoError(t, err)
		assert.Positive(t, n)
	} else {
		// a.txt won: it moved to version 2 and c.txt points at it.
		assert.Equal(t, 2, latest.Metadata.Version)
		assert.True(t, results["c.txt"].IsDuplicate)
		assert.Equal(t, latest.FileID, *results["c.txt"].ExistingFileID)
	}
}

// queryCountingEmbedder records how many searches went through the query mode.
type queryCountingEmbedder struct {
	wordEmbedder
	queries int
}

func (e *queryCountingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queries++
	return e.Embed(ctx, text)
}

func TestQuery_PrefersQueryMode(t *testing.T) {
	store := db.NewMemoryClient()
	_, err := store.CreateKnowledgeSet(t.Context(), "alice", "docs")
	require.NoError(t, err)
	emb := &queryCountingEmbedder{}
	ing := NewDocumentIngestor(store, nil, emb, NewExtractor(false), &IngestConfig{ChunkSize: 200, ChunkOverlap: 20})

	_, err = ing.Ingest(t.Context(), "alice", "docs", "fox.txt", []byte("The quick brown fox."))
	require.NoError(t, err)
	assert.Zero(t, emb.queries)

	matches, err := ing.Query(t.Context(), "alice", "docs", "brown fox", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, emb.queries)
}

func TestQuery_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ingestor.Query(t.Context(), "alice", "docs", "  ", 3)
	assert.Equal(t, core.KindInvalidArgument, core.KindOf(err))

	_, err = f.ingestor.Query(t.Context(), "alice", "missing", "fox", 3)
	assert.True(t, core.IsNotFound(err))

	matches, err := f.ingestor.Query(t.Context(), "alice", "docs", "fox", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQuery_TopKAndOrdering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	var body bytes.Buffer
	for n := 0; n < 20; n++ {
		fmt.Fprintf(&body, "Paragraph %d talks about apples and pears in some detail.\n\n", n)
	}
	res, err := f.ingestor.Ingest(ctx, "alice", "docs", "fruit.txt", body.Bytes())
	require.NoError(t, err)
	require.Greater(t, res.ChunksCreated, 3)

	matches, err := f.ingestor.Query(ctx, "alice", "docs", "apples", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for n := 1; n < len(matches); n++ {
		assert.GreaterOrEqual(t, matches[n-1].Score, matches[n].Score)
	}
}
