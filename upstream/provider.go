// Package upstream 提供到上游补全服务的转发与本地 mock.
package upstream

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

// Provider 定义上游补全提供者接口.
type Provider interface {
	// Complete 转发一次非流式补全,返回上游响应体原文.
	Complete(ctx context.Context, req *types.ChatRequest, authorization string) (json.RawMessage, error)

	// Stream 把流式补全直接透传到 w,不缓冲不缓存.
	Stream(ctx context.Context, w http.ResponseWriter, req *types.ChatRequest, authorization string) error

	// Name 返回提供者名称.
	Name() string
}

// HTTPConfig configures the upstream forwarder.
type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HTTPProvider 把请求原样转发到 OpenAI 兼容的上游.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPProvider creates the upstream forwarder.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrConfigInvalid, "upstream base url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "upstream")),
	}, nil
}

func (p *HTTPProvider) Name() string { return "http-upstream" }

func (p *HTTPProvider) send(ctx context.Context, req *types.ChatRequest, authorization string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode upstream request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamFailed, "build upstream request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCanceled, "upstream request canceled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrUpstreamFailed, "upstream request failed").WithCause(err).WithRetryable(true)
	}
	return resp, nil
}

// Complete 转发补全请求并返回响应体原文.
func (p *HTTPProvider) Complete(ctx context.Context, req *types.ChatRequest, authorization string) (json.RawMessage, error) {
	resp, err := p.send(ctx, req, authorization)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamFailed, "read upstream response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrUpstreamFailed,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(raw))).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(resp.StatusCode >= 500)
	}
	return raw, nil
}

// Stream 透传流式响应.
func (p *HTTPProvider) Stream(ctx context.Context, w http.ResponseWriter, req *types.ChatRequest, authorization string) error {
	resp, err := p.send(ctx, req, authorization)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return types.NewError(types.ErrUpstreamFailed,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(raw))).
			WithHTTPStatus(http.StatusBadGateway)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return types.NewError(types.ErrUpstreamFailed, "stream interrupted").WithCause(err)
		}
	}
}
