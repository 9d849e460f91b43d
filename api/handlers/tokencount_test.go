package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/reflex/types"
)

func TestCountCompletionTokens(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		assert.Equal(t, 0, countCompletionTokens(nil))
	})

	t.Run("usage preferred", func(t *testing.T) {
		resp := &types.ChatResponse{
			Usage: types.ChatUsage{CompletionTokens: 42},
			Choices: []types.ChatChoice{
				{Message: types.ChatMessage{Content: "some very long completion text"}},
			},
		}
		assert.Equal(t, 42, countCompletionTokens(resp))
	})

	t.Run("estimates from content without usage", func(t *testing.T) {
		resp := &types.ChatResponse{
			Choices: []types.ChatChoice{
				{Message: types.ChatMessage{Content: "The quick brown fox jumps over the lazy dog."}},
			},
		}
		got := countCompletionTokens(resp)
		assert.Greater(t, got, 0)
		assert.Less(t, got, 30)
	})

	t.Run("empty content", func(t *testing.T) {
		resp := &types.ChatResponse{Choices: []types.ChatChoice{{}}}
		assert.Equal(t, 0, countCompletionTokens(resp))
	})
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	short := estimateTokens("hello")
	long := estimateTokens("hello world, this is a much longer piece of text with many more words in it")
	assert.Greater(t, long, short)
}
