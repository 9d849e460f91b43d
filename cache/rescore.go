package cache

import (
	"math"
	"sort"

	"github.com/x448/float16"
	"go.uber.org/zap"

	"github.com/BaSui01/reflex/storage"
)

// HydratedCandidate 是已从归档存储载入的语义候选.
type HydratedCandidate struct {
	EntryID string
	Entry   *storage.Entry
	// BQScore 是量化索引给出的近似分.
	BQScore float64
}

// ScoredCandidate 是全精度重打分后的候选.
type ScoredCandidate struct {
	EntryID string
	Entry   *storage.Entry
	// Score 是全精度余弦相似度.
	Score float64
	// ScoreDelta 记录全精度分与量化分之差.
	ScoreDelta float64
}

// F32ToF16Bytes 把 f32 向量编码为 f16 小端字节.
func F32ToF16Bytes(vec []float32) []byte {
	out := make([]byte, 0, len(vec)*2)
	for _, v := range vec {
		bits := float16.Fromfloat32(v).Bits()
		out = append(out, byte(bits), byte(bits>>8))
	}
	return out
}

// F16BytesToF32 把 f16 小端字节解码为 f32 向量.
// 字节长度为奇数时返回 false,调用方按损坏处理.
func F16BytesToF32(data []byte) ([]float32, bool) {
	if len(data)%2 != 0 {
		return nil, false
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		bits := uint16(data[2*i]) | uint16(data[2*i+1])<<8
		out[i] = float16.Frombits(bits).Float32()
	}
	return out, true
}

// CosineSimilarity 计算余弦相似度,f64 累加避免精度丢失.
// 任一向量为零向量时返回 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rescore 用全精度向量重打分.
//
// 维度不匹配或无法解码的候选被丢弃并告警;NaN 分数同样丢弃.
// 结果按分数降序排列,分数相同时按条目 ID 定序,保证全序确定.
func Rescore(query []float32, candidates []HydratedCandidate, logger *zap.Logger) []ScoredCandidate {
	if logger == nil {
		logger = zap.NewNop()
	}

	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		vec, ok := F16BytesToF32(c.Entry.Embedding)
		if !ok {
			logger.Warn("candidate embedding not f16 aligned, dropped",
				zap.String("entry_id", c.EntryID),
				zap.Int("bytes", len(c.Entry.Embedding)))
			continue
		}
		if len(vec) != len(query) {
			logger.Warn("candidate dimension mismatch, dropped",
				zap.String("entry_id", c.EntryID),
				zap.Int("got", len(vec)),
				zap.Int("want", len(query)))
			continue
		}

		score := CosineSimilarity(query, vec)
		if math.IsNaN(score) {
			logger.Warn("candidate produced NaN score, dropped", zap.String("entry_id", c.EntryID))
			continue
		}

		scored = append(scored, ScoredCandidate{
			EntryID:    c.EntryID,
			Entry:      c.Entry,
			Score:      score,
			ScoreDelta: score - c.BQScore,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].EntryID < scored[j].EntryID
	})
	return scored
}
