// Package hashing 提供请求指纹与语义查询派生.
//
// 精确键对规范化后的请求字节取 BLAKE3,任何会改变补全结果的字段
// (模型、消息、采样参数)都参与哈希;语义查询只取 user 轮次的文本.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"

	"lukechampine.com/blake3"

	"github.com/BaSui01/reflex/types"
)

// DefaultTenant 是未携带凭证的请求归属的租户.
const DefaultTenant = "default"

// Digest 是 32 字节的 BLAKE3 摘要.
type Digest [32]byte

// Hex 返回摘要的十六进制表示.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// U64 返回摘要前 8 字节的小端整数,用于分片与指标标签.
func (d Digest) U64() uint64 {
	return binary.LittleEndian.Uint64(d[:8])
}

// canonicalRequest 固定字段顺序,保证序列化字节稳定.
type canonicalRequest struct {
	Model            string              `json:"model"`
	Messages         []canonicalMessage  `json:"messages"`
	Temperature      *float64            `json:"temperature,omitempty"`
	TopP             *float64            `json:"top_p,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	N                int                 `json:"n,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
	PresencePenalty  *float64            `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64            `json:"frequency_penalty,omitempty"`
	Seed             *int                `json:"seed,omitempty"`
}

type canonicalMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeriveExactKey 对规范化后的请求计算精确键.
//
// 同一请求永远得到同一摘要;消息内容、角色、顺序或模型的任何变化
// 都会产生不同的摘要.Stream 与 Metadata 不参与,它们不影响补全内容.
func DeriveExactKey(req *types.ChatRequest) Digest {
	canon := canonicalRequest{
		Model:            req.Model,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		N:                req.N,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
	}
	canon.Messages = make([]canonicalMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		canon.Messages = append(canon.Messages, canonicalMessage{Role: m.Role, Content: m.Content})
	}

	data, _ := json.Marshal(canon)
	return blake3.Sum256(data)
}

// SemanticQuery 拼接 user 轮次的文本作为语义检索查询.
//
// 各轮之间以换行分隔,首尾空白被裁剪,轮内连续空白折叠为单个空格,
// 保证仅空白差异的请求得到相同的查询;没有 user 轮次时返回空串,
// 由调用方按 EmptyQuery 处理.
func SemanticQuery(req *types.ChatRequest) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		if fields := strings.Fields(m.Content); len(fields) > 0 {
			parts = append(parts, strings.Join(fields, " "))
		}
	}
	return strings.Join(parts, "\n")
}

// HashTenant 把不透明的凭证映射为租户标识(十六进制 BLAKE3).
func HashTenant(token string) string {
	d := blake3.Sum256([]byte(token))
	return hex.EncodeToString(d[:])
}

// ContextHash 对消息序列计算内容摘要,role 与 content 以 "|" 连接.
func ContextHash(messages []types.ChatMessage) Digest {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(m.Role)
		b.WriteByte('|')
		b.WriteString(m.Content)
	}
	return blake3.Sum256([]byte(b.String()))
}

// HashText 对任意文本取 BLAKE3.
func HashText(text string) Digest {
	return blake3.Sum256([]byte(text))
}
