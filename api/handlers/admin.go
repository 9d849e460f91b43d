package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reflex/cache"
	"github.com/BaSui01/reflex/types"
)

// =============================================================================
// 🧹 缓存运维接口
// =============================================================================

// AdminHandler 提供缓存统计与按租户清理.
type AdminHandler struct {
	tiered *cache.TieredCache
	logger *zap.Logger
}

// NewAdminHandler creates the cache maintenance handler.
func NewAdminHandler(tiered *cache.TieredCache, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		tiered: tiered,
		logger: logger.With(zap.String("component", "admin-handler")),
	}
}

// HandleStats 返回 GET /v1/cache/stats.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, types.ErrInvalidRequest, "method not allowed")
		return
	}
	l1 := h.tiered.L1()
	WriteJSON(w, http.StatusOK, map[string]any{
		"l1_entries":  l1.Len(),
		"l1_capacity": l1.Capacity(),
	})
}

// HandlePurgeTenant 处理 DELETE /v1/cache/{tenant}:只清 L1,存储与索引不动.
func (h *AdminHandler) HandlePurgeTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteErrorMessage(w, types.ErrInvalidRequest, "method not allowed")
		return
	}
	tenant := strings.TrimPrefix(r.URL.Path, "/v1/cache/")
	tenant = strings.Trim(tenant, "/")
	if tenant == "" || strings.Contains(tenant, "/") {
		WriteErrorMessage(w, types.ErrInvalidRequest, "tenant is required")
		return
	}

	removed := h.tiered.L1().PurgeTenant(tenant)
	h.logger.Info("tenant cache purged",
		zap.String("tenant", tenant),
		zap.Int("entries", removed))
	WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":  tenant,
		"removed": removed,
	})
}
