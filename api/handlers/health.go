package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/reflex/cache"
)

// =============================================================================
// 🏥 健康检查
// =============================================================================

const readyProbeTimeout = 5 * time.Second

// HealthHandler 提供存活与就绪探针.
type HealthHandler struct {
	tiered    *cache.TieredCache
	startedAt time.Time
	version   string
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(tiered *cache.TieredCache, version string) *HealthHandler {
	return &HealthHandler{
		tiered:    tiered,
		startedAt: time.Now(),
		version:   version,
	}
}

// HandleHealthz 存活探针:进程在跑即 200.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}

// HandleReady 就绪探针:存储可写且索引可达才算就绪.
// 未就绪返回 503,负载均衡据此摘除实例.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	if !h.tiered.Ready(ctx) {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
