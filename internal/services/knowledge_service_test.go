package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	db "github.com/markdave123-py/knowledge-mcp/internal/core/database"
	"github.com/markdave123-py/knowledge-mcp/internal/core/ingestion_engine"
)

// letterEmbedder counts letters a-z; good enough to rank overlapping words.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (e letterEmbedder) EmbedBatch(ctx context.Context, texts []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (letterEmbedder) Dimension() int { return 26 }

type prefixArchive struct {
	objects map[string][]byte
	deleted []string
	fail    error
}

func (a *prefixArchive) UploadFile(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = b
	return "s3://bucket/" + key, nil
}
func (a *prefixArchive) DeleteFile(context.Context, string) error { return nil }
func (a *prefixArchive) DeletePrefix(_ context.Context, prefix string) error {
	a.deleted = append(a.deleted, prefix)
	return a.fail
}
func (a *prefixArchive) GetFile(_ context.Context, key string) ([]byte, error) {
	b, ok := a.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return b, nil
}

func newService(t *testing.T, archive *prefixArchive) *KnowledgeService {
	t.Helper()
	store := db.NewMemoryClient()
	var obj core.ObjectClient
	if archive != nil {
		obj = archive
	}
	ing := ingestion_engine.NewDocumentIngestor(store, obj, letterEmbedder{}, ingestion_engine.NewExtractor(false), &ingestion_engine.IngestConfig{ChunkSize: 100, ChunkOverlap: 10})
	return NewKnowledgeService(store, obj, ing)
}

func TestKnowledgeSets(t *testing.T) {
	svc := newService(t, nil)
	ctx := t.Context()

	first, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	again, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)

	_, err = svc.CreateKnowledgeSet(ctx, "bob", "other")
	require.NoError(t, err)

	sets, err := svc.ListKnowledgeSets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "docs", sets[0].KnowledgeSetID)

	res, err := svc.DeleteKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	res, err = svc.DeleteKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Contains(t, res.Detail, "did not exist")
}

func TestKnowledgeSetIDValidation(t *testing.T) {
	svc := newService(t, nil)

	for _, id := range []string{"", "a/b", "what?", strings.Repeat("x", 129)} {
		_, err := svc.CreateKnowledgeSet(t.Context(), "alice", id)
		assert.Equal(t, core.KindInvalidArgument, core.KindOf(err), "id %q", id)
	}
	_, err := svc.CreateKnowledgeSet(t.Context(), "alice", "team-notes_2024.v1")
	assert.NoError(t, err)
}

func TestMissingIdentity(t *testing.T) {
	svc := newService(t, nil)
	ctx := t.Context()

	_, err := svc.CreateKnowledgeSet(ctx, "", "docs")
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))
	_, err = svc.ListKnowledgeSets(ctx, " ")
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))
	_, err = svc.Query(ctx, "", "docs", "x", 1)
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))
	_, err = svc.IngestBase64(ctx, "", "docs", "a.txt", base64.StdEncoding.EncodeToString([]byte("x")))
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))
}

func TestFilesLifecycle(t *testing.T) {
	archive := &prefixArchive{}
	svc := newService(t, archive)
	ctx := t.Context()
	_, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)

	res, err := svc.IngestBase64(ctx, "alice", "docs", "a.txt", base64.StdEncoding.EncodeToString([]byte("alpha beta gamma")))
	require.NoError(t, err)

	files, err := svc.ListFiles(ctx, "alice", "docs", false)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Empty(t, files[0].Metadata.ExtractedText)
	assert.Equal(t, "s3://bucket/users/alice/knowledge-sets/docs/"+res.FileID+"/a.txt", files[0].Metadata.Extra["storage_url"])

	files, err = svc.ListFiles(ctx, "alice", "docs", true)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma", files[0].Metadata.ExtractedText)

	rec, err := svc.GetFile(ctx, "alice", "docs", res.FileID, false)
	require.NoError(t, err)
	assert.Empty(t, rec.Metadata.ExtractedText)

	del, err := svc.DeleteFile(ctx, "alice", "docs", res.FileID)
	require.NoError(t, err)
	assert.True(t, del.Deleted)
	assert.Equal(t, []string{"users/alice/knowledge-sets/docs/" + res.FileID + "/"}, archive.deleted)

	del, err = svc.DeleteFile(ctx, "alice", "docs", res.FileID)
	require.NoError(t, err)
	assert.False(t, del.Deleted)
	assert.Contains(t, del.Detail, "not found")
}

func TestDeleteSetArchiveFailureIsNotFatal(t *testing.T) {
	archive := &prefixArchive{fail: errors.New("access denied")}
	svc := newService(t, archive)
	ctx := t.Context()
	_, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)

	res, err := svc.DeleteKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Equal(t, []string{"users/alice/knowledge-sets/docs/"}, archive.deleted)
}

func TestDecodeContent(t *testing.T) {
	raw := []byte{0xfb, 0xff, 'h', 'i'}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		got, err := DecodeContent(enc.EncodeToString(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}

	_, err := DecodeContent("not base64!!")
	assert.Equal(t, core.KindInvalidArgument, core.KindOf(err))
}

func TestQueryThroughService(t *testing.T) {
	svc := newService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "alice", "docs", "zoo.txt", []byte("zebra zebra zoo"))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "alice", "docs", "apple.txt", []byte("apple pie"))
	require.NoError(t, err)

	matches, err := svc.Query(ctx, "alice", "docs", "zebra", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "zebra zebra zoo", matches[0].Metadata.Text)

	_, err = svc.Query(ctx, "bob", "docs", "zebra", 0)
	assert.True(t, core.IsNotFound(err))
}

func TestRawFile(t *testing.T) {
	ctx := t.Context()

	archive := &prefixArchive{}
	svc := newService(t, archive)
	_, err := svc.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	res, err := svc.Ingest(ctx, "alice", "docs", "notes.md", []byte("# Notes\n\nkeep the original"))
	require.NoError(t, err)

	rec, data, err := svc.RawFile(ctx, "alice", "docs", res.FileID)
	require.NoError(t, err)
	assert.Equal(t, "notes.md", rec.Metadata.Filename)
	assert.Equal(t, "# Notes\n\nkeep the original", string(data))

	_, _, err = svc.RawFile(ctx, "bob", "docs", res.FileID)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	plain := newService(t, nil)
	_, err = plain.CreateKnowledgeSet(ctx, "alice", "docs")
	require.NoError(t, err)
	res, err = plain.Ingest(ctx, "alice", "docs", "a.txt", []byte("no archive"))
	require.NoError(t, err)
	_, _, err = plain.RawFile(ctx, "alice", "docs", res.FileID)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}
