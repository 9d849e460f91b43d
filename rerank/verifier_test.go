package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reflex/types"
)

// fakeProvider 返回预设分数或错误.
type fakeProvider struct {
	scores []float64
	err    error
}

func (p *fakeProvider) Rerank(_ context.Context, req *RerankRequest) ([]RerankResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	results := make([]RerankResult, 0, len(p.scores))
	for i, s := range p.scores {
		results = append(results, RerankResult{Index: i, RelevanceScore: s})
	}
	return results, nil
}

func (p *fakeProvider) Name() string      { return "fake" }
func (p *fakeProvider) MaxDocuments() int { return 100 }

func TestNewVerifier_ThresholdBounds(t *testing.T) {
	for _, bad := range []float64{-0.1, 1.1} {
		_, err := NewVerifier(nil, bad, nil)
		assert.Error(t, err, "threshold %g", bad)
	}
	for _, ok := range []float64{0, 0.7, 1} {
		v, err := NewVerifier(nil, ok, nil)
		require.NoError(t, err)
		assert.Equal(t, ok, v.Threshold())
	}
}

func TestVerifyCandidates_NoCandidates(t *testing.T) {
	v, err := NewVerifier(&fakeProvider{}, 0.7, nil)
	require.NoError(t, err)

	verdict := v.VerifyCandidates(context.Background(), "q", nil)
	assert.Equal(t, StatusNoCandidates, verdict.Status)
}

func TestVerifyCandidates_UnverifiedWithoutProvider(t *testing.T) {
	v, err := NewVerifier(nil, 0.7, nil)
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	// 无重排器时接受相似度最高的首个候选
	verdict := v.VerifyCandidates(context.Background(), "q", []string{"best", "second"})
	assert.Equal(t, StatusUnverified, verdict.Status)
	assert.Equal(t, 0, verdict.Index)
}

func TestVerifyCandidates_Accepted(t *testing.T) {
	v, err := NewVerifier(&fakeProvider{scores: []float64{0.2, 0.95, 0.4}}, 0.7, nil)
	require.NoError(t, err)

	verdict := v.VerifyCandidates(context.Background(), "q", []string{"a", "b", "c"})
	assert.Equal(t, StatusAccepted, verdict.Status)
	assert.Equal(t, 1, verdict.Index)
	assert.InDelta(t, 0.95, verdict.Score, 1e-9)
}

func TestVerifyCandidates_BelowThreshold(t *testing.T) {
	v, err := NewVerifier(&fakeProvider{scores: []float64{0.3, 0.65}}, 0.7, nil)
	require.NoError(t, err)

	verdict := v.VerifyCandidates(context.Background(), "q", []string{"a", "b"})
	assert.Equal(t, StatusBelowThreshold, verdict.Status)
	assert.InDelta(t, 0.65, verdict.TopScore, 1e-9)
}

func TestVerifyCandidates_ExactThresholdRejected(t *testing.T) {
	// 接受条件为严格大于阈值
	v, err := NewVerifier(&fakeProvider{scores: []float64{0.7}}, 0.7, nil)
	require.NoError(t, err)

	verdict := v.VerifyCandidates(context.Background(), "q", []string{"a"})
	assert.Equal(t, StatusBelowThreshold, verdict.Status)
}

func TestVerifyCandidates_ProviderError(t *testing.T) {
	v, err := NewVerifier(&fakeProvider{err: errors.New("boom")}, 0.7, nil)
	require.NoError(t, err)

	verdict := v.VerifyCandidates(context.Background(), "q", []string{"a"})
	assert.Equal(t, StatusError, verdict.Status)
	require.Error(t, verdict.Err)
	assert.Equal(t, types.ErrRerankerFailed, types.GetErrorCode(verdict.Err))
}
