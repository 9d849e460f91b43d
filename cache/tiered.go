package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/reflex/internal/metrics"
	"github.com/BaSui01/reflex/rerank"
	"github.com/BaSui01/reflex/storage"
	"github.com/BaSui01/reflex/vectordb"
)

// Tier 标识一次查找命中的层.
type Tier string

const (
	TierL1Exact    Tier = "l1-exact"
	TierL3Verified Tier = "l3-verified"
	TierMiss       Tier = "miss"
)

// Payload 是缓存条目携带的不透明负载.
// Query 为语义请求快照,供 L3 校验;Response 为上游响应体原文.
type Payload struct {
	Query    string          `json:"query"`
	Response json.RawMessage `json:"response"`
}

// LookupResult 是一次分层查找的结果.
type LookupResult struct {
	Tier    Tier
	Payload []byte
	// Embedding 在 L2 执行过时携带查询向量,准入阶段复用,不再二次嵌入.
	Embedding []float32
	// Verify 记录 L3 的结论,便于观测.
	Verify rerank.VerifyStatus
	// VerifyScore 在接受时为交叉编码器分数.
	VerifyScore float64
}

// index upsert 重试参数.
const (
	upsertAttempts    = 3
	upsertBaseBackoff = 200 * time.Millisecond
	upsertTimeout     = 30 * time.Second
)

// TieredCache 编排 L1/L2/L3 查找、准入与单飞合并.
type TieredCache struct {
	l1       *ExactCache
	l2       *SemanticCache
	verifier *rerank.Verifier
	store    *storage.ArchiveStore
	index    vectordb.Index
	logger   *zap.Logger
	metrics  *metrics.Collector

	group     singleflight.Group
	observers []func(tenant string)
}

// NewTieredCache wires the three tiers together.
func NewTieredCache(
	l1 *ExactCache,
	l2 *SemanticCache,
	verifier *rerank.Verifier,
	store *storage.ArchiveStore,
	index vectordb.Index,
	collector *metrics.Collector,
	logger *zap.Logger,
) *TieredCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredCache{
		l1:       l1,
		l2:       l2,
		verifier: verifier,
		store:    store,
		index:    index,
		logger:   logger.With(zap.String("component", "tiered_cache")),
		metrics:  collector,
	}
}

// L1 exposes the exact tier for maintenance surfaces.
func (t *TieredCache) L1() *ExactCache {
	return t.l1
}

// AddObserver 注册请求观察钩子,每次查找都会触发.
func (t *TieredCache) AddObserver(fn func(tenant string)) {
	t.observers = append(t.observers, fn)
}

func (t *TieredCache) notifyObserved(tenant string) {
	for _, fn := range t.observers {
		fn(tenant)
	}
}

// Lookup 执行一次分层查找.
//
// L1 命中不触发嵌入;语义查询为空时跳过 L2/L3;L2/L3 的任何失败
// 都退化为未命中,嵌入一旦算出就随结果返回.
func (t *TieredCache) Lookup(ctx context.Context, tenant, exactKeyHex, semanticQuery string) *LookupResult {
	t.notifyObserved(tenant)

	if payload, ok := t.l1.Get(ExactKeyFor(tenant, exactKeyHex)); ok {
		t.metrics.RecordLookup(string(TierL1Exact))
		return &LookupResult{Tier: TierL1Exact, Payload: payload}
	}

	if semanticQuery == "" {
		t.metrics.RecordLookup(string(TierMiss))
		return &LookupResult{Tier: TierMiss, Verify: rerank.StatusNoCandidates}
	}

	l2res, err := t.l2.Lookup(ctx, tenant, semanticQuery)
	if err != nil {
		t.logger.Warn("semantic lookup degraded",
			zap.String("tenant", tenant), zap.Error(err))
	}
	result := &LookupResult{Tier: TierMiss}
	if l2res != nil {
		result.Embedding = l2res.Embedding
	}
	if l2res == nil || len(l2res.Candidates) == 0 {
		result.Verify = rerank.StatusNoCandidates
		t.metrics.RecordLookup(string(TierMiss))
		return result
	}

	// 候选文本取缓存的语义请求快照;负载解析失败的候选直接跳过.
	texts := make([]string, 0, len(l2res.Candidates))
	cands := make([]ScoredCandidate, 0, len(l2res.Candidates))
	for _, c := range l2res.Candidates {
		var p Payload
		if err := json.Unmarshal(c.Entry.Payload, &p); err != nil {
			t.logger.Warn("candidate payload unreadable, skipped",
				zap.String("tenant", tenant),
				zap.String("entry_id", c.EntryID),
				zap.Error(err))
			continue
		}
		texts = append(texts, p.Query)
		cands = append(cands, c)
	}

	verdict := t.verifier.VerifyCandidates(ctx, semanticQuery, texts)
	result.Verify = verdict.Status

	switch verdict.Status {
	case rerank.StatusAccepted, rerank.StatusUnverified:
		if verdict.Index >= 0 && verdict.Index < len(cands) {
			result.Tier = TierL3Verified
			result.Payload = cands[verdict.Index].Entry.Payload
			result.VerifyScore = verdict.Score
			t.metrics.RecordLookup(string(TierL3Verified))
			return result
		}
	}

	t.metrics.RecordLookup(string(TierMiss))
	return result
}

// Admit 准入一个新条目.
//
// 持久化写入失败时整个准入失败,不留下 L1 条目和索引点;写入成功后
// 先进 L1,索引 upsert 在后台带重试执行,失败只记录不回传.
func (t *TieredCache) Admit(ctx context.Context, tenant, exactKeyHex string, contextHash [32]byte, embeddingVec []float32, payload []byte) (string, error) {
	id := uuid.NewString()

	entry := &storage.Entry{
		TenantID:    tenant,
		ContextHash: contextHash,
		Timestamp:   time.Now().Unix(),
		Embedding:   F32ToF16Bytes(embeddingVec),
		Payload:     payload,
	}

	if err := t.store.Write(tenant, id, entry); err != nil {
		t.metrics.RecordAdmission(false)
		return "", err
	}

	t.l1.Put(ExactKeyFor(tenant, exactKeyHex), payload)
	t.metrics.RecordAdmission(true)
	t.metrics.SetL1Size(t.l1.Len())

	if len(embeddingVec) > 0 {
		go t.upsertWithRetry(tenant, id, hex.EncodeToString(contextHash[:]), embeddingVec, entry.Embedding)
	}

	return id, nil
}

// upsertWithRetry 在请求之外执行索引写入,带上限退避重试.
func (t *TieredCache) upsertWithRetry(tenant, id, contextHashHex string, vec []float32, vecF16 []byte) {
	point := &vectordb.Point{
		TenantID:    tenant,
		EntryID:     id,
		ContextHash: contextHashHex,
		Vector:      vec,
		VectorF16:   vecF16,
	}

	backoff := upsertBaseBackoff
	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
		lastErr = t.index.Upsert(ctx, point)
		cancel()
		if lastErr == nil {
			return
		}
		if attempt < upsertAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	t.metrics.RecordIndexUpsertFailure()
	t.logger.Error("index upsert failed after retries",
		zap.String("tenant", tenant),
		zap.String("entry_id", id),
		zap.Int("attempts", upsertAttempts),
		zap.Error(lastErr))
}

// DoExclusive 以 (tenant, exact_key) 为键合并并发执行.
// N 个相同未命中只触发一次 fn,其余调用方共享同一结果.
func (t *TieredCache) DoExclusive(tenant, exactKeyHex string, fn func() (any, error)) (any, error, bool) {
	return t.group.Do(ExactKeyFor(tenant, exactKeyHex), fn)
}

// Ready 报告缓存是否可服务:存储可写且索引可达.
func (t *TieredCache) Ready(ctx context.Context) bool {
	return t.store.Writable() && t.index.Reachable(ctx)
}
