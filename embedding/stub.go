package embedding

import (
	"context"
	"math"
	"math/rand"

	"github.com/BaSui01/reflex/hashing"
)

// StubProvider 是确定性的嵌入桩:以文本哈希为种子生成伪随机向量.
//
// 同一文本永远得到同一向量.未配置模型端点时使用,也用于测试.
type StubProvider struct {
	dims int
}

// NewStubProvider creates a deterministic stub embedder.
func NewStubProvider(dims int) *StubProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StubProvider{dims: dims}
}

// EmbedQuery 生成 L2 归一化的确定性向量,分量初始均匀分布于 [-1, 1).
func (p *StubProvider) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	seed := hashing.HashText(query).U64()
	rng := rand.New(rand.NewSource(int64(seed)))

	vec := make([]float32, p.dims)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// Name returns the provider name.
func (p *StubProvider) Name() string {
	return "stub-embedding"
}

// Dimensions returns the embedding dimensionality.
func (p *StubProvider) Dimensions() int {
	return p.dims
}
