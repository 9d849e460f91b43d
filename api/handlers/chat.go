package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reflex/cache"
	"github.com/BaSui01/reflex/hashing"
	"github.com/BaSui01/reflex/internal/metrics"
	"github.com/BaSui01/reflex/types"
	"github.com/BaSui01/reflex/upstream"
)

// =============================================================================
// 💬 补全网关
// =============================================================================

// 缓存状态响应头.
const (
	HeaderCacheStatus = "X-Reflex-Status"

	StatusHitL1 = "hit-l1-exact"
	StatusHitL3 = "hit-l3-verified"
	StatusMiss  = "miss"
)

// ChatHandler 处理 POST /v1/chat/completions:
// 命中缓存直接返回,未命中转发上游并回填.
type ChatHandler struct {
	tiered   *cache.TieredCache
	provider upstream.Provider
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewChatHandler creates the chat completions handler.
func NewChatHandler(tiered *cache.TieredCache, provider upstream.Provider, collector *metrics.Collector, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		tiered:   tiered,
		provider: provider,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "chat-handler")),
	}
}

// tenantFromRequest 从 Authorization 推导租户.
// Bearer 令牌只取哈希,原文不落盘不入日志;无令牌归入默认租户.
func tenantFromRequest(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" || strings.EqualFold(auth, "bearer") {
		return hashing.DefaultTenant
	}
	token := auth
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		token = strings.TrimSpace(auth[7:])
	}
	if token == "" {
		return hashing.DefaultTenant
	}
	return hashing.HashTenant(token)
}

// ServeHTTP 执行一次补全请求的完整缓存流程.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, types.ErrInvalidRequest, "method not allowed")
		return
	}

	var req types.ChatRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		WriteErrorMessage(w, types.ErrInvalidRequest, "messages must not be empty")
		return
	}

	ctx := r.Context()
	tenant := tenantFromRequest(r)
	authorization := r.Header.Get("Authorization")

	// 流式请求不经过缓存,直接透传.
	if req.Stream {
		w.Header().Set(HeaderCacheStatus, StatusMiss)
		h.metrics.RecordLookup(string(cache.TierMiss))
		h.metrics.RecordUpstreamCall()
		if err := h.provider.Stream(ctx, w, &req, authorization); err != nil {
			h.logger.Warn("stream forward failed",
				zap.String("tenant", tenant),
				zap.Error(err))
		}
		return
	}

	exactHex := hashing.DeriveExactKey(&req).Hex()
	semQuery := hashing.SemanticQuery(&req)

	start := time.Now()
	result := h.tiered.Lookup(ctx, tenant, exactHex, semQuery)
	h.metrics.ObserveLookupDuration(string(result.Tier), time.Since(start))

	switch result.Tier {
	case cache.TierL1Exact, cache.TierL3Verified:
		var payload cache.Payload
		if err := json.Unmarshal(result.Payload, &payload); err == nil && len(payload.Response) > 0 {
			h.recordSaved(string(result.Tier), payload.Response)
			w.Header().Set(HeaderCacheStatus, statusForTier(result.Tier))
			WriteRawJSON(w, http.StatusOK, payload.Response)
			return
		}
		// 缓存载荷损坏视为未命中.
		h.logger.Warn("cached payload unreadable, treating as miss",
			zap.String("tenant", tenant),
			zap.String("tier", string(result.Tier)))
	}

	h.serveMiss(w, r, &req, tenant, exactHex, semQuery, authorization, result)
}

func statusForTier(tier cache.Tier) string {
	switch tier {
	case cache.TierL1Exact:
		return StatusHitL1
	case cache.TierL3Verified:
		return StatusHitL3
	}
	return StatusMiss
}

// serveMiss 转发上游并在成功后回填缓存.
// 同一 (租户, 精确键) 的并发未命中合并为一次上游调用.
func (h *ChatHandler) serveMiss(w http.ResponseWriter, r *http.Request, req *types.ChatRequest,
	tenant, exactHex, semQuery, authorization string, lookup *cache.LookupResult) {

	ctx := r.Context()

	result, err, _ := h.tiered.DoExclusive(tenant, exactHex, func() (any, error) {
		// 合并窗口内可能已有请求完成回填,先复查 L1.
		if payload, ok := h.tiered.L1().Get(cache.ExactKeyFor(tenant, exactHex)); ok {
			var cached cache.Payload
			if json.Unmarshal(payload, &cached) == nil && len(cached.Response) > 0 {
				return []byte(cached.Response), nil
			}
		}

		h.metrics.RecordUpstreamCall()
		resp, err := h.provider.Complete(ctx, req, authorization)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(cache.Payload{Query: semQuery, Response: resp})
		if err != nil {
			h.logger.Error("encode cache payload failed", zap.Error(err))
			return []byte(resp), nil
		}

		// 回填失败不影响本次响应.
		contextHash := hashing.ContextHash(req.Messages)
		if _, admitErr := h.tiered.Admit(ctx, tenant, exactHex, contextHash, lookup.Embedding, payload); admitErr != nil {
			h.logger.Warn("admission failed",
				zap.String("tenant", tenant),
				zap.Error(admitErr))
		}
		return []byte(resp), nil
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	raw, _ := result.([]byte)
	w.Header().Set(HeaderCacheStatus, StatusMiss)
	WriteRawJSON(w, http.StatusOK, raw)
}

func (h *ChatHandler) recordSaved(tier string, raw json.RawMessage) {
	var resp types.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	h.metrics.RecordTokensSaved(tier, countCompletionTokens(&resp))
}
