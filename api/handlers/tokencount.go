package handlers

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/reflex/types"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// countCompletionTokens 统计缓存命中时节省的补全 Token 数.
// 优先解析响应体里的 usage;缺失时用 cl100k_base 对补全文本估算;
// 编码器不可用时退化为 len/4 粗估.
func countCompletionTokens(resp *types.ChatResponse) int {
	if resp == nil {
		return 0
	}
	if resp.Usage.CompletionTokens > 0 {
		return resp.Usage.CompletionTokens
	}

	var text string
	for _, choice := range resp.Choices {
		text += choice.Message.Content
	}
	if text == "" {
		return 0
	}
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})
	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return len(text) / 4
}
