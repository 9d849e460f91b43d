package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/reflex/types"
)

// MockProvider 返回固定形状的补全响应,用于本地联调与端到端测试.
type MockProvider struct{}

// NewMockProvider creates the mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

const mockCompletion = "This is a mock response."

func (p *MockProvider) buildResponse(req *types.ChatRequest) *types.ChatResponse {
	return &types.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: "assistant", Content: mockCompletion},
			FinishReason: "stop",
		}},
		Usage: types.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}
}

// Complete 返回固定响应.
func (p *MockProvider) Complete(_ context.Context, req *types.ChatRequest, _ string) (json.RawMessage, error) {
	raw, err := json.Marshal(p.buildResponse(req))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode mock response").WithCause(err)
	}
	return raw, nil
}

// Stream 以 SSE 形式发送固定响应的增量后结束.
func (p *MockProvider) Stream(_ context.Context, w http.ResponseWriter, req *types.ChatRequest, _ string) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	id := "chatcmpl-" + uuid.NewString()

	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"role": "assistant", "content": mockCompletion},
		}},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)

	final := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]any{},
			"finish_reason": "stop",
		}},
	}
	data, _ = json.Marshal(final)
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")

	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
