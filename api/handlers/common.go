// Package handlers 实现网关的 HTTP 处理器.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/BaSui01/reflex/types"
)

// =============================================================================
// 🔧 通用响应工具
// =============================================================================

// ErrorInfo 是错误响应体.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse 包装错误信息,形状与 OpenAI 风格错误保持一致.
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// WriteJSON 写出 JSON 响应.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteRawJSON 写出已经是 JSON 的原始字节,不做二次编码.
func WriteRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// WriteError 把内部错误映射为 HTTP 错误响应.
func WriteError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	status := mapErrorCodeToHTTPStatus(code)

	var appErr *types.Error
	message := "internal error"
	if e, ok := err.(*types.Error); ok {
		appErr = e
		message = appErr.Message
		if appErr.HTTPStatus != 0 {
			status = appErr.HTTPStatus
		}
	} else if err != nil {
		message = err.Error()
	}

	WriteJSON(w, status, ErrorResponse{Error: ErrorInfo{
		Code:    string(code),
		Message: message,
	}})
}

// WriteErrorMessage 用给定错误码和文案写出错误响应.
func WriteErrorMessage(w http.ResponseWriter, code types.ErrorCode, message string) {
	WriteJSON(w, mapErrorCodeToHTTPStatus(code), ErrorResponse{Error: ErrorInfo{
		Code:    string(code),
		Message: message,
	}})
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrEmptyQuery, types.ErrConfigInvalid:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrStorageUnavailable, types.ErrIndexUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamFailed:
		return http.StatusBadGateway
	case types.ErrCanceled:
		// 客户端已断开,状态码仅用于日志.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody 解析请求体.
// 不拒绝未知字段,客户端可能携带网关不关心的扩展参数.
func DecodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return types.NewError(types.ErrInvalidRequest, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	return nil
}
