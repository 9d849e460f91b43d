package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reflex/embedding"
	"github.com/BaSui01/reflex/storage"
	"github.com/BaSui01/reflex/types"
	"github.com/BaSui01/reflex/vectordb"
)

// fakeIndex 返回预设候选,记录调用.
type fakeIndex struct {
	mu         sync.Mutex
	candidates []vectordb.Candidate
	searchErr  error
	upsertErr  error
	reachable  bool
	upserted   []*vectordb.Point
	searches   int
}

func (f *fakeIndex) EnsureCollection(_ context.Context, _ string) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, point *vectordb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, point)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, _, _ int) ([]vectordb.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.candidates, nil
}

func (f *fakeIndex) Reachable(_ context.Context) bool { return f.reachable }

func (f *fakeIndex) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserted)
}

// failingEmbedder 永远失败.
type failingEmbedder struct{}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("embed down")
}
func (failingEmbedder) Name() string    { return "failing" }
func (failingEmbedder) Dimensions() int { return 8 }

func newL2TestStore(t *testing.T) *storage.ArchiveStore {
	t.Helper()
	store, err := storage.NewArchiveStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func mustPayload(t *testing.T, query string) []byte {
	t.Helper()
	raw, err := json.Marshal(Payload{Query: query, Response: json.RawMessage(`{"ok":true}`)})
	require.NoError(t, err)
	return raw
}

func writeEntry(t *testing.T, store *storage.ArchiveStore, tenant, id string, emb []float32, payload []byte) {
	t.Helper()
	require.NoError(t, store.Write(tenant, id, &storage.Entry{
		TenantID:  tenant,
		Timestamp: time.Now().Unix(),
		Embedding: F32ToF16Bytes(emb),
		Payload:   payload,
	}))
}

func TestSemanticCache_EmptyQuery(t *testing.T) {
	store := newL2TestStore(t)
	l2 := NewSemanticCache(store, &fakeIndex{}, embedding.NewStubProvider(8), L2Config{}, nil)

	_, err := l2.Lookup(context.Background(), "tenant", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyQuery, types.GetErrorCode(err))
}

func TestSemanticCache_EmbedFailure(t *testing.T) {
	store := newL2TestStore(t)
	l2 := NewSemanticCache(store, &fakeIndex{}, failingEmbedder{}, L2Config{}, nil)

	res, err := l2.Lookup(context.Background(), "tenant", "query")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbedFailed, types.GetErrorCode(err))
	require.NotNil(t, res)
	assert.Empty(t, res.Candidates)
}

func TestSemanticCache_SearchFailureDegrades(t *testing.T) {
	store := newL2TestStore(t)
	idx := &fakeIndex{searchErr: errors.New("index down")}
	l2 := NewSemanticCache(store, idx, embedding.NewStubProvider(8), L2Config{}, nil)

	res, err := l2.Lookup(context.Background(), "tenant", "query")
	require.Error(t, err)
	require.NotNil(t, res)
	// 嵌入已算出,随结果返回供准入复用
	assert.Len(t, res.Embedding, 8)
	assert.Empty(t, res.Candidates)
}

func TestSemanticCache_HydratesAndRescores(t *testing.T) {
	store := newL2TestStore(t)
	embedder := embedding.NewStubProvider(8)

	queryVec, err := embedder.EmbedQuery(context.Background(), "the query")
	require.NoError(t, err)

	// near 与查询向量一致,far 反向
	far := make([]float32, len(queryVec))
	for i, v := range queryVec {
		far[i] = -v
	}
	writeEntry(t, store, "tenant", "near", queryVec, mustPayload(t, "the query"))
	writeEntry(t, store, "tenant", "far", far, mustPayload(t, "unrelated"))

	idx := &fakeIndex{candidates: []vectordb.Candidate{
		{EntryID: "far", Score: 0.2},
		{EntryID: "near", Score: 0.9},
	}}
	l2 := NewSemanticCache(store, idx, embedder, L2Config{}, nil)

	res, err := l2.Lookup(context.Background(), "tenant", "the query")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 2, res.BQCount)
	assert.Equal(t, "near", res.Candidates[0].EntryID)
	assert.Greater(t, res.Candidates[0].Score, res.Candidates[1].Score)
}

func TestSemanticCache_SkipsMissingEntries(t *testing.T) {
	store := newL2TestStore(t)
	embedder := embedding.NewStubProvider(8)

	vec, err := embedder.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	writeEntry(t, store, "tenant", "present", vec, mustPayload(t, "q"))

	idx := &fakeIndex{candidates: []vectordb.Candidate{
		{EntryID: "present", Score: 0.9},
		{EntryID: "ghost", Score: 0.8},
	}}
	l2 := NewSemanticCache(store, idx, embedder, L2Config{}, nil)

	res, err := l2.Lookup(context.Background(), "tenant", "q")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "present", res.Candidates[0].EntryID)
}

func TestSemanticCache_TruncatesToLimit(t *testing.T) {
	store := newL2TestStore(t)
	embedder := embedding.NewStubProvider(4)

	vec, err := embedder.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)

	var cands []vectordb.Candidate
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		writeEntry(t, store, "tenant", id, vec, mustPayload(t, "q"))
		cands = append(cands, vectordb.Candidate{EntryID: id, Score: 0.5})
	}

	l2 := NewSemanticCache(store, &fakeIndex{candidates: cands}, embedder, L2Config{Limit: 2, RescoreLimit: 4}, nil)

	res, err := l2.Lookup(context.Background(), "tenant", "q")
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, 4, res.BQCount)
}
