package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/reflex/types"
)

// HTTPConfig configures the cross-encoder rerank client.
type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key,omitempty"`
	Model   string        `json:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HTTPProvider 通过 Cohere 兼容的 /v2/rerank 端点执行交叉编码器打分.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider 创建新的交叉编码器客户端.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Model == "" {
		cfg.Model = "rerank-v3.5"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string      { return "cross-encoder" }
func (p *HTTPProvider) MaxDocuments() int { return 1000 }

type wireRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type wireRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 对文档打分,结果按输入下标一一对应.
func (p *HTTPProvider) Rerank(ctx context.Context, req *RerankRequest) ([]RerankResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	docs := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d.Text
	}

	body := wireRerankRequest{
		Query:     req.Query,
		Documents: docs,
		Model:     model,
		TopN:      req.TopN,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v2/rerank",
		bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrRerankerFailed, "build rerank request").WithCause(err)
	}
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCanceled, "rerank request canceled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrRerankerFailed, "rerank request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrRerankerFailed,
			fmt.Sprintf("rerank endpoint returned %d: %s", resp.StatusCode, string(raw))).
			WithRetryable(resp.StatusCode >= 500)
	}

	var wResp wireRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, types.NewError(types.ErrRerankerFailed, "decode rerank response").WithCause(err)
	}

	results := make([]RerankResult, len(wResp.Results))
	for i, r := range wResp.Results {
		results[i] = RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore}
	}
	return results, nil
}
