package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reflex/types"
)

func simpleReq() *types.ChatRequest {
	return &types.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	}
}

func TestNewHTTPProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))
}

func TestHTTPProvider_CompleteForwardsRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq types.ChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	raw, err := p.Complete(context.Background(), simpleReq(), "Bearer sk-123")
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-123", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.JSONEq(t, `{"id":"chatcmpl-1","choices":[]}`, string(raw))
}

func TestHTTPProvider_CompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), simpleReq(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamFailed, types.GetErrorCode(err))
	// 5xx 可重试,4xx 不可
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPProvider_Complete4xxNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), simpleReq(), "")
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
}

func TestHTTPProvider_CompleteCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Complete(ctx, simpleReq(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrCanceled, types.GetErrorCode(err))
}

func TestHTTPProvider_StreamPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"delta\":\"a\"}\n\ndata: [DONE]\n\n"))
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, p.Stream(context.Background(), w, simpleReq(), ""))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `data: {"delta":"a"}`)
	assert.Contains(t, w.Body.String(), "data: [DONE]")
}

func TestHTTPProvider_StreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	err = p.Stream(context.Background(), w, simpleReq(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamFailed, types.GetErrorCode(err))
}

func TestMockProvider_CompleteShape(t *testing.T) {
	p := NewMockProvider()

	raw, err := p.Complete(context.Background(), simpleReq(), "")
	require.NoError(t, err)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.NotEmpty(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestMockProvider_StreamEmitsSSE(t *testing.T) {
	p := NewMockProvider()

	w := httptest.NewRecorder()
	require.NoError(t, p.Stream(context.Background(), w, simpleReq(), ""))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, events, 3)
	assert.Equal(t, "[DONE]", events[2])

	var chunk map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0]), &chunk))
	assert.Equal(t, "chat.completion.chunk", chunk["object"])
}
