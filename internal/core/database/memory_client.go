package db

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

type setKey struct {
	owner, set string
}

type memSet struct {
	createdAt time.Time
	files     map[string]*models.FileRecord
	chunks    map[string]map[string]models.ChunkEntry // file_id -> chunk_id -> entry
}

// MemoryClient is a process-local KnowledgeStore used by tests and single-node setups.
// Nothing survives a restart.
type MemoryClient struct {
	mu   sync.RWMutex
	sets map[setKey]*memSet
	now  func() time.Time

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		sets:  map[setKey]*memSet{},
		now:   time.Now,
		locks: map[string]chan struct{}{},
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) set(ownerID, setID string) (*memSet, error) {
	s, ok := m.sets[setKey{ownerID, setID}]
	if !ok {
		return nil, &core.NotFoundError{Resource: "knowledge set", ID: setID}
	}
	return s, nil
}

func cloneRecord(r *models.FileRecord) *models.FileRecord {
	cp := *r
	cp.Metadata.Extra = maps.Clone(r.Metadata.Extra)
	if r.Metadata.PreviousVersionFileID != nil {
		prev := *r.Metadata.PreviousVersionFileID
		cp.Metadata.PreviousVersionFileID = &prev
	}
	return &cp
}

func (m *MemoryClient) CreateKnowledgeSet(_ context.Context, ownerID, setID string) (*models.KnowledgeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := setKey{ownerID, setID}
	s, ok := m.sets[k]
	if !ok {
		s = &memSet{
			createdAt: m.now().UTC(),
			files:     map[string]*models.FileRecord{},
			chunks:    map[string]map[string]models.ChunkEntry{},
		}
		m.sets[k] = s
	}
	return &models.KnowledgeSet{OwnerID: ownerID, KnowledgeSetID: setID, CreatedAt: s.createdAt}, nil
}

func (m *MemoryClient) ListKnowledgeSets(_ context.Context, ownerID string) ([]models.KnowledgeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.KnowledgeSet{}
	for k, s := range m.sets {
		if k.owner == ownerID {
			out = append(out, models.KnowledgeSet{OwnerID: k.owner, KnowledgeSetID: k.set, CreatedAt: s.createdAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].KnowledgeSetID < out[j].KnowledgeSetID
	})
	return out, nil
}

func (m *MemoryClient) DeleteKnowledgeSet(_ context.Context, ownerID, setID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := setKey{ownerID, setID}
	if _, ok := m.sets[k]; !ok {
		return false, nil
	}
	delete(m.sets, k)
	return true, nil
}

func (m *MemoryClient) CreateFile(_ context.Context, ownerID, setID, fileID string, meta models.FileMetadata) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	if _, exists := s.files[fileID]; exists {
		return nil, &core.StoreError{Op: "create file", Err: errDuplicateKey}
	}
	if meta.IsLatestVersion {
		for _, f := range s.files {
			if !f.Metadata.IsLatestVersion {
				continue
			}
			if f.Metadata.Filename == meta.Filename || f.Metadata.ContentHash == meta.ContentHash {
				return nil, &core.StoreError{Op: "create file", Err: errDuplicateKey}
			}
		}
	}

	rec := &models.FileRecord{
		OwnerID:        ownerID,
		KnowledgeSetID: setID,
		FileID:         fileID,
		Metadata:       meta,
		CreatedAt:      m.now().UTC(),
	}
	s.files[fileID] = cloneRecord(rec)
	return rec, nil
}

func (m *MemoryClient) FindFileByContentHash(_ context.Context, ownerID, setID, contentHash string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	for _, f := range s.files {
		if f.Metadata.IsLatestVersion && f.Metadata.ContentHash == contentHash {
			return cloneRecord(f), nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) GetLatestVersionInfo(_ context.Context, ownerID, setID, filename string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	for _, f := range s.files {
		if f.Metadata.IsLatestVersion && f.Metadata.Filename == filename {
			return cloneRecord(f), nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) MarkPreviousVersionAsOld(_ context.Context, ownerID, setID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return err
	}
	f, ok := s.files[fileID]
	if !ok {
		return &core.NotFoundError{Resource: "file", ID: fileID}
	}
	f.Metadata.IsLatestVersion = false
	delete(s.chunks, fileID)
	return nil
}

func (m *MemoryClient) GetFile(_ context.Context, ownerID, setID, fileID string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	f, ok := s.files[fileID]
	if !ok {
		return nil, &core.NotFoundError{Resource: "file", ID: fileID}
	}
	return cloneRecord(f), nil
}

func (m *MemoryClient) ListFiles(_ context.Context, ownerID, setID string) ([]models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	out := []models.FileRecord{}
	for _, f := range s.files {
		if f.Metadata.IsLatestVersion {
			out = append(out, *cloneRecord(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.Filename != out[j].Metadata.Filename {
			return out[i].Metadata.Filename < out[j].Metadata.Filename
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryClient) DeleteFile(_ context.Context, ownerID, setID, fileID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[setKey{ownerID, setID}]
	if !ok {
		return false, nil
	}
	if _, ok := s.files[fileID]; !ok {
		return false, nil
	}
	delete(s.files, fileID)
	delete(s.chunks, fileID)
	return true, nil
}

func (m *MemoryClient) CountChunksForFile(_ context.Context, ownerID, setID, fileID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return 0, err
	}
	return len(s.chunks[fileID]), nil
}

func (m *MemoryClient) UpsertChunks(_ context.Context, ownerID, setID, fileID string, chunks []models.ChunkEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return err
	}
	if _, ok := s.files[fileID]; !ok {
		return &core.NotFoundError{Resource: "file", ID: fileID}
	}
	if len(chunks) == 0 {
		return nil
	}
	byID, ok := s.chunks[fileID]
	if !ok {
		byID = map[string]models.ChunkEntry{}
		s.chunks[fileID] = byID
	}
	for _, ch := range chunks {
		ch.FileID = fileID
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		ch.Extra = maps.Clone(ch.Extra)
		byID[ch.ChunkID] = ch
	}
	return nil
}

func (m *MemoryClient) QueryChunks(_ context.Context, ownerID, setID string, embedding []float32, topK int) ([]models.ChunkMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.set(ownerID, setID)
	if err != nil {
		return nil, err
	}
	out := []models.ChunkMatch{}
	if len(embedding) == 0 || topK <= 0 {
		return out, nil
	}
	for fileID, byID := range s.chunks {
		for _, ch := range byID {
			if len(ch.Embedding) != len(embedding) {
				continue
			}
			out = append(out, models.ChunkMatch{
				FileID:  fileID,
				ChunkID: ch.ChunkID,
				Score:   core.CosineSimilarity(ch.Embedding, embedding),
				Metadata: models.ChunkMetadata{
					Text:   ch.Text,
					Offset: ch.Offset,
					Extra:  maps.Clone(ch.Extra),
				},
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// LockIngestion blocks until no other caller holds the same content hash or filename, or ctx is done.
func (m *MemoryClient) LockIngestion(ctx context.Context, ownerID, setID, filename, contentHash string) (func(), error) {
	scope := ownerID + "\x00" + setID + "\x00"
	unlockHash, err := m.acquire(ctx, scope+"hash\x00"+contentHash)
	if err != nil {
		return nil, err
	}
	unlockName, err := m.acquire(ctx, scope+"file\x00"+filename)
	if err != nil {
		unlockHash()
		return nil, err
	}
	return func() {
		unlockName()
		unlockHash()
	}, nil
}

func (m *MemoryClient) acquire(ctx context.Context, key string) (func(), error) {
	for {
		m.lockMu.Lock()
		held, busy := m.locks[key]
		if !busy {
			release := make(chan struct{})
			m.locks[key] = release
			m.lockMu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					m.lockMu.Lock()
					delete(m.locks, key)
					m.lockMu.Unlock()
					close(release)
				})
			}, nil
		}
		m.lockMu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, &core.StoreError{Op: "lock ingestion", Err: ctx.Err()}
		}
	}
}

var _ core.KnowledgeStore = (*MemoryClient)(nil)
