package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/reflex/types"
)

// DefaultThreshold 是交叉编码器接受阈值的默认值.
const DefaultThreshold = 0.70

// VerifyStatus 表示候选校验的结论.
type VerifyStatus string

const (
	// StatusAccepted 交叉编码器分数超过阈值,候选可用.
	StatusAccepted VerifyStatus = "accepted"
	// StatusBelowThreshold 最高分未超过阈值.
	StatusBelowThreshold VerifyStatus = "below_threshold"
	// StatusNoCandidates 没有候选可校验.
	StatusNoCandidates VerifyStatus = "no_candidates"
	// StatusUnverified 未配置重排器,无条件接受最高候选.
	StatusUnverified VerifyStatus = "unverified"
	// StatusError 重排器调用失败.
	StatusError VerifyStatus = "error"
)

// Verdict 是一次校验的结果.
type Verdict struct {
	Status VerifyStatus
	// Index 指向被接受的候选在输入中的下标.
	Index int
	// Score 是被接受候选的交叉编码器分数.
	Score float64
	// TopScore 在 below_threshold 时记录最高分.
	TopScore float64
	// Err 在 error 状态时携带失败原因.
	Err error
}

// Verifier 用交叉编码器对语义候选做最终校验.
type Verifier struct {
	provider  Provider
	threshold float64
	logger    *zap.Logger
}

// NewVerifier creates a verifier. A nil provider means candidates are
// accepted unverified.
func NewVerifier(provider Provider, threshold float64, logger *zap.Logger) (*Verifier, error) {
	if threshold < 0 || threshold > 1 {
		return nil, types.NewError(types.ErrConfigInvalid, "reranker threshold must be in [0, 1]")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		provider:  provider,
		threshold: threshold,
		logger:    logger.With(zap.String("component", "verifier")),
	}, nil
}

// Threshold returns the acceptance threshold.
func (v *Verifier) Threshold() float64 {
	return v.threshold
}

// Enabled reports whether a cross-encoder is configured.
func (v *Verifier) Enabled() bool {
	return v.provider != nil
}

// VerifyCandidates 校验一组候选文本.
//
// 候选为空返回 no_candidates;未配置重排器时无条件接受第一个候选
// (调用方按相似度降序传入);重排器失败降级为 error,绝不 panic.
// 接受条件为最高分严格大于阈值.
func (v *Verifier) VerifyCandidates(ctx context.Context, query string, candidates []string) Verdict {
	if len(candidates) == 0 {
		return Verdict{Status: StatusNoCandidates}
	}

	if v.provider == nil {
		return Verdict{Status: StatusUnverified, Index: 0}
	}

	docs := make([]Document, len(candidates))
	for i, c := range candidates {
		docs[i] = Document{Text: c}
	}

	results, err := v.provider.Rerank(ctx, &RerankRequest{Query: query, Documents: docs})
	if err != nil {
		v.logger.Warn("rerank failed", zap.Error(err))
		return Verdict{
			Status: StatusError,
			Err:    types.NewError(types.ErrRerankerFailed, "candidate verification failed").WithCause(err),
		}
	}
	if len(results) == 0 {
		return Verdict{Status: StatusNoCandidates}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	top := results[0]
	if top.RelevanceScore > v.threshold {
		return Verdict{Status: StatusAccepted, Index: top.Index, Score: top.RelevanceScore}
	}
	return Verdict{Status: StatusBelowThreshold, TopScore: top.RelevanceScore}
}
