// Package vectordb 提供二值量化向量索引适配器.
//
// 每个租户一个集合,余弦距离,开启二值量化;检索携带过采样参数,
// payload 中保留全精度 f16 向量供上层重打分.
package vectordb

import "context"

// Point 是写入索引的一个向量点.
type Point struct {
	// TenantID 决定点落入哪个集合,同时写入 payload 供过滤.
	TenantID string
	// EntryID 是归档存储中的条目 ID.
	EntryID string
	// ContextHash 是条目内容摘要的十六进制,点 ID 由它派生.
	ContextHash string
	// Vector 是全精度查询向量.
	Vector []float32
	// VectorF16 是 f16 小端字节,随 payload 保存.
	VectorF16 []byte
}

// Candidate 是一次检索返回的候选.
type Candidate struct {
	EntryID     string
	ContextHash string
	// Score 是量化检索给出的近似余弦分.
	Score float64
	// VectorF16 是 payload 中恢复的全精度 f16 向量字节.
	VectorF16 []byte
}

// Index 定义向量索引适配器接口.
type Index interface {
	// EnsureCollection 确保租户集合存在,幂等.
	EnsureCollection(ctx context.Context, tenant string) error

	// Upsert 写入或覆盖一个点.
	Upsert(ctx context.Context, point *Point) error

	// Search 在租户集合中检索 rescoreLimit 个候选.
	// 过采样因子为 rescoreLimit/limit,上限 10 倍.
	Search(ctx context.Context, tenant string, vector []float32, limit, rescoreLimit int) ([]Candidate, error)

	// Reachable 探测索引是否可达,供就绪检查使用.
	Reachable(ctx context.Context) bool
}

// maxOversampling 限制过采样因子,防止 limit 很小时检索代价失控.
const maxOversampling = 10.0

// oversamplingFactor computes rescoreLimit/limit clamped to [1, 10].
func oversamplingFactor(limit, rescoreLimit int) float64 {
	if limit <= 0 || rescoreLimit <= limit {
		return 1.0
	}
	f := float64(rescoreLimit) / float64(limit)
	if f > maxOversampling {
		return maxOversampling
	}
	return f
}
