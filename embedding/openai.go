package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reflex/types"
)

// OpenAIConfig configures the OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key,omitempty"`
	Model      string        `json:"model,omitempty"`
	Dimensions int           `json:"dimensions,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// OpenAIProvider implements embedding using an OpenAI-compatible API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_embedding")),
	}
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// EmbedQuery 为单个查询生成嵌入.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	body := openAIEmbedRequest{
		Input:      []string{query},
		Model:      p.cfg.Model,
		Dimensions: p.cfg.Dimensions,
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrEmbedFailed, "encode embedding request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, types.NewError(types.ErrEmbedFailed, "build embedding request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCanceled, "embedding request canceled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrEmbedFailed, "embedding request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrEmbedFailed,
			fmt.Sprintf("embedding endpoint returned %d: %s", resp.StatusCode, string(raw))).
			WithRetryable(resp.StatusCode >= 500)
	}

	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrEmbedFailed, "decode embedding response").WithCause(err)
	}
	if len(out.Data) == 0 {
		return nil, types.NewError(types.ErrEmbedFailed, "embedding response contains no data")
	}

	vec := out.Data[0].Embedding
	if len(vec) != p.cfg.Dimensions {
		return nil, types.NewError(types.ErrEmbedFailed,
			fmt.Sprintf("embedding dimension mismatch: got=%d want=%d", len(vec), p.cfg.Dimensions))
	}
	return vec, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai-embedding"
}

// Dimensions returns the embedding dimensionality.
func (p *OpenAIProvider) Dimensions() int {
	return p.cfg.Dimensions
}
