package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestChain_OrderOfExecution(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), tag("first"), tag("second"), tag("third"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	// 第一个声明的中间件最先执行
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRecovery(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), RequestID())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesClientID(t *testing.T) {
	h := Chain(okHandler(), RequestID())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-supplied")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "client-supplied", w.Header().Get("X-Request-ID"))
}

func TestGetRequestID_MissingReturnsEmpty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestSecurityHeaders(t *testing.T) {
	h := Chain(okHandler(), SecurityHeaders())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestResponseWriter_CapturesStatusOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestResponseWriter_DefaultsTo200OnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	_, err := rw.Write([]byte("body"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.statusCode)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/v1/cache/{tenant}", normalizePath("/v1/cache/alice"))
	assert.Equal(t, "/v1/cache/stats", normalizePath("/v1/cache/stats"))
	assert.Equal(t, "/v1/chat/completions", normalizePath("/v1/chat/completions"))
	assert.Equal(t, "/healthz", normalizePath("/healthz"))
}

func TestRateLimiter_Returns429WhenExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Chain(okHandler(), RateLimiter(ctx, 1, 2, zap.NewNop()))

	get := func() int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusOK, get())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Chain(okHandler(), RateLimiter(ctx, 1, 1, zap.NewNop()))

	get := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	require.Equal(t, http.StatusOK, get("10.0.0.1:1"))
	require.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:2"))
	// 另一 IP 有独立配额
	assert.Equal(t, http.StatusOK, get("10.0.0.2:1"))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Chain(okHandler(), RateLimiter(ctx, 100, 1, zap.NewNop()))

	get := func() int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.9:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	require.Equal(t, http.StatusOK, get())
	require.Equal(t, http.StatusTooManyRequests, get())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, http.StatusOK, get())
}
