package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/reflex/types"
)

// QdrantConfig configures the Qdrant Index implementation.
type QdrantConfig struct {
	BaseURL          string        `json:"base_url"`
	APIKey           string        `json:"api_key,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	VectorSize       int           `json:"vector_size"`
	CollectionPrefix string        `json:"collection_prefix,omitempty"`
}

// QdrantIndex implements Index using Qdrant's REST API with binary
// quantization enabled per collection.
type QdrantIndex struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	ensured map[string]struct{}
}

// NewQdrantIndex creates a Qdrant-backed Index.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VectorSize <= 0 {
		return nil, types.NewError(types.ErrConfigInvalid, "qdrant vector size must be > 0")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "reflex_"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6334"
	}

	return &QdrantIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_index")),
		ensured: make(map[string]struct{}),
	}, nil
}

var pointNamespace = uuid.MustParse("3f2d9a47-6c1e-4b5a-9e8d-7a0b2c4d6e8f")

// PointID derives a stable UUID from tenant and context hash.
func PointID(tenant, contextHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(tenant+":"+contextHash)).String()
}

func (q *QdrantIndex) collection(tenant string) string {
	return q.cfg.CollectionPrefix + tenant
}

func (q *QdrantIndex) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(q.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", q.cfg.APIKey)
	}
}

func (q *QdrantIndex) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := q.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	q.applyHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// Collection already exists.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EnsureCollection 确保租户集合存在:先查存在性,缺失则创建.
// 已确认过的租户直接返回,409 视为已存在.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, tenant string) error {
	q.mu.Lock()
	if _, ok := q.ensured[tenant]; ok {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	name := q.collection(tenant)
	checkPath := fmt.Sprintf("/collections/%s/exists", url.PathEscape(name))

	var existsResp struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := q.doJSON(ctx, http.MethodGet, checkPath, nil, &existsResp); err != nil {
		return types.NewError(types.ErrIndexUnavailable, "check collection").WithCause(err).WithTenant(tenant).WithRetryable(true)
	}

	if !existsResp.Result.Exists {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.cfg.VectorSize,
				"distance": "Cosine",
			},
			"quantization_config": map[string]any{
				"binary": map[string]any{
					"always_ram": true,
				},
			},
			"on_disk_payload": true,
		}

		createPath := fmt.Sprintf("/collections/%s", url.PathEscape(name))
		if err := q.doJSON(ctx, http.MethodPut, createPath, body, nil); err != nil {
			return types.NewError(types.ErrIndexUnavailable, "create collection").WithCause(err).WithTenant(tenant).WithRetryable(true)
		}
		q.logger.Info("collection created", zap.String("collection", name))
	}

	q.mu.Lock()
	q.ensured[tenant] = struct{}{}
	q.mu.Unlock()
	return nil
}

// Upsert 写入一个点,payload 携带条目 ID 与全精度 f16 向量.
func (q *QdrantIndex) Upsert(ctx context.Context, point *Point) error {
	if len(point.Vector) != q.cfg.VectorSize {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("vector dimension mismatch: got=%d want=%d", len(point.Vector), q.cfg.VectorSize))
	}

	if err := q.EnsureCollection(ctx, point.TenantID); err != nil {
		return err
	}

	type qdrantPoint struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	req := struct {
		Points []qdrantPoint `json:"points"`
	}{
		Points: []qdrantPoint{{
			ID:     PointID(point.TenantID, point.ContextHash),
			Vector: point.Vector,
			Payload: map[string]any{
				"tenant_id":    point.TenantID,
				"entry_id":     point.EntryID,
				"context_hash": point.ContextHash,
				"vector_f16":   point.VectorF16,
			},
		}},
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(q.collection(point.TenantID)))
	if err := q.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return types.NewError(types.ErrIndexUnavailable, "upsert point").WithCause(err).WithTenant(point.TenantID).WithRetryable(true)
	}

	q.logger.Debug("point upserted",
		zap.String("tenant", point.TenantID),
		zap.String("entry_id", point.EntryID))
	return nil
}

// Search 用量化索引检索 rescoreLimit 个候选.
func (q *QdrantIndex) Search(ctx context.Context, tenant string, vector []float32, limit, rescoreLimit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	if rescoreLimit < limit {
		rescoreLimit = limit
	}
	// 候选数不超过 limit 的 10 倍,与过采样因子上限一致
	if max := limit * int(maxOversampling); rescoreLimit > max {
		rescoreLimit = max
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        rescoreLimit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "tenant_id", "match": map[string]any{"value": tenant}},
			},
		},
		"params": map[string]any{
			"quantization": map[string]any{
				"ignore":       false,
				"rescore":      true,
				"oversampling": oversamplingFactor(limit, rescoreLimit),
			},
		},
	}

	type qdrantResult struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var resp struct {
		Result []qdrantResult `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(q.collection(tenant)))
	if err := q.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, types.NewError(types.ErrIndexUnavailable, "search").WithCause(err).WithTenant(tenant).WithRetryable(true)
	}

	out := make([]Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		c := Candidate{Score: r.Score}
		if r.Payload != nil {
			if v, ok := r.Payload["entry_id"].(string); ok {
				c.EntryID = v
			}
			if v, ok := r.Payload["context_hash"].(string); ok {
				c.ContextHash = v
			}
			if v, ok := r.Payload["vector_f16"].(string); ok {
				// []byte round-trips through JSON as base64.
				var raw []byte
				if err := json.Unmarshal([]byte(`"`+v+`"`), &raw); err == nil {
					c.VectorF16 = raw
				}
			}
		}
		if c.EntryID == "" {
			q.logger.Warn("search result missing entry_id", zap.String("tenant", tenant), zap.Any("point_id", r.ID))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Reachable 探测 Qdrant 是否可达.
func (q *QdrantIndex) Reachable(ctx context.Context) bool {
	var resp any
	err := q.doJSON(ctx, http.MethodGet, "/collections", nil, &resp)
	return err == nil
}
