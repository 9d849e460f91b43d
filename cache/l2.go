package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/reflex/embedding"
	"github.com/BaSui01/reflex/storage"
	"github.com/BaSui01/reflex/types"
	"github.com/BaSui01/reflex/vectordb"
)

// L2 检索参数默认值.
const (
	DefaultL2Limit        = 5
	DefaultL2RescoreLimit = 20
	DefaultHydrateWorkers = 8
)

// L2Config configures the semantic lookup tier.
type L2Config struct {
	// Limit 是重打分后保留的候选数.
	Limit int
	// RescoreLimit 是量化检索返回的候选数.
	RescoreLimit int
	// HydrateWorkers 限制归档载入的并发度.
	HydrateWorkers int
}

// SemanticCache 把嵌入、向量检索、归档载入与重打分编排为一次语义查找.
type SemanticCache struct {
	store    *storage.ArchiveStore
	index    vectordb.Index
	embedder embedding.Provider
	cfg      L2Config
	logger   *zap.Logger
}

// L2Result 是一次语义查找的结果.
type L2Result struct {
	// Embedding 是查询向量,只计算一次,供准入复用.
	Embedding []float32
	// Candidates 按全精度分降序.
	Candidates []ScoredCandidate
	// BQCount 是量化检索返回的原始候选数.
	BQCount int
}

// NewSemanticCache creates the L2 tier.
func NewSemanticCache(store *storage.ArchiveStore, index vectordb.Index, embedder embedding.Provider, cfg L2Config, logger *zap.Logger) *SemanticCache {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultL2Limit
	}
	if cfg.RescoreLimit < cfg.Limit {
		cfg.RescoreLimit = DefaultL2RescoreLimit
	}
	if cfg.RescoreLimit < cfg.Limit {
		cfg.RescoreLimit = cfg.Limit
	}
	if cfg.HydrateWorkers <= 0 {
		cfg.HydrateWorkers = DefaultHydrateWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:    store,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "l2_cache")),
	}
}

// Lookup 执行一次语义查找.
//
// 查询只嵌入一次,嵌入随结果返回;检索或全部载入失败时退化为空
// 候选集,嵌入已算出则照常返回,调用方据此决定是否继续准入.
func (c *SemanticCache) Lookup(ctx context.Context, tenant, query string) (*L2Result, error) {
	if query == "" {
		return nil, types.NewError(types.ErrEmptyQuery, "semantic query is empty").WithTenant(tenant)
	}

	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return &L2Result{}, types.NewError(types.ErrEmbedFailed, "embed semantic query").WithCause(err).WithTenant(tenant)
	}

	result := &L2Result{Embedding: vec}

	raw, err := c.index.Search(ctx, tenant, vec, c.cfg.Limit, c.cfg.RescoreLimit)
	if err != nil {
		c.logger.Warn("index search failed, degrading to miss",
			zap.String("tenant", tenant), zap.Error(err))
		return result, err
	}
	result.BQCount = len(raw)
	if len(raw) == 0 {
		return result, nil
	}

	hydrated := c.hydrate(ctx, tenant, raw)
	if len(hydrated) == 0 {
		return result, nil
	}

	scored := Rescore(vec, hydrated, c.logger)
	if len(scored) > c.cfg.Limit {
		scored = scored[:c.cfg.Limit]
	}
	result.Candidates = scored
	return result, nil
}

// hydrate 以有界并发从归档存储载入候选.
// 缺失或损坏的条目被跳过并告警,一个坏条目不应拖垮整次查找.
func (c *SemanticCache) hydrate(ctx context.Context, tenant string, raw []vectordb.Candidate) []HydratedCandidate {
	sem := semaphore.NewWeighted(int64(c.cfg.HydrateWorkers))

	var mu sync.Mutex
	var wg sync.WaitGroup
	hydrated := make([]HydratedCandidate, 0, len(raw))

	for _, cand := range raw {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(cand vectordb.Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			entry, err := c.store.Read(tenant, cand.EntryID)
			if err != nil {
				c.logger.Warn("candidate hydration failed, skipped",
					zap.String("tenant", tenant),
					zap.String("entry_id", cand.EntryID),
					zap.Error(err))
				return
			}

			mu.Lock()
			hydrated = append(hydrated, HydratedCandidate{
				EntryID: cand.EntryID,
				Entry:   entry,
				BQScore: cand.Score,
			})
			mu.Unlock()
		}(cand)
	}

	wg.Wait()
	return hydrated
}
