package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reflex/cache"
	"github.com/BaSui01/reflex/upstream"
)

func newAdminTestHandler(t *testing.T) (*AdminHandler, *cache.TieredCache) {
	t.Helper()
	chat := newChatTestHandler(t, upstream.NewMockProvider())
	return NewAdminHandler(chat.tiered, nil), chat.tiered
}

func TestHandleStats(t *testing.T) {
	h, tiered := newAdminTestHandler(t)

	tiered.L1().Put(cache.ExactKeyFor("alice", "k1"), []byte("v"))
	tiered.L1().Put(cache.ExactKeyFor("alice", "k2"), []byte("v"))

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["l1_entries"])
	assert.Equal(t, float64(32), body["l1_capacity"])
}

func TestHandleStats_RejectsNonGet(t *testing.T) {
	h, _ := newAdminTestHandler(t)

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodPost, "/v1/cache/stats", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePurgeTenant(t *testing.T) {
	h, tiered := newAdminTestHandler(t)

	tiered.L1().Put(cache.ExactKeyFor("alice", "k1"), []byte("v"))
	tiered.L1().Put(cache.ExactKeyFor("alice", "k2"), []byte("v"))
	tiered.L1().Put(cache.ExactKeyFor("bob", "k1"), []byte("v"))

	w := httptest.NewRecorder()
	h.HandlePurgeTenant(w, httptest.NewRequest(http.MethodDelete, "/v1/cache/alice", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body["tenant"])
	assert.Equal(t, float64(2), body["removed"])

	// 其他租户不受影响
	_, ok := tiered.L1().Get(cache.ExactKeyFor("bob", "k1"))
	assert.True(t, ok)
	_, ok = tiered.L1().Get(cache.ExactKeyFor("alice", "k1"))
	assert.False(t, ok)
}

func TestHandlePurgeTenant_Validation(t *testing.T) {
	h, _ := newAdminTestHandler(t)

	for _, path := range []string{"/v1/cache/", "/v1/cache/a/b"} {
		w := httptest.NewRecorder()
		h.HandlePurgeTenant(w, httptest.NewRequest(http.MethodDelete, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)
	}

	w := httptest.NewRecorder()
	h.HandlePurgeTenant(w, httptest.NewRequest(http.MethodGet, "/v1/cache/alice", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
