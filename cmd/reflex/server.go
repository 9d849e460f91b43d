package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/reflex/api/handlers"
	"github.com/BaSui01/reflex/cache"
	"github.com/BaSui01/reflex/config"
	"github.com/BaSui01/reflex/embedding"
	"github.com/BaSui01/reflex/internal/metrics"
	"github.com/BaSui01/reflex/internal/server"
	"github.com/BaSui01/reflex/internal/telemetry"
	"github.com/BaSui01/reflex/rerank"
	"github.com/BaSui01/reflex/storage"
	"github.com/BaSui01/reflex/upstream"
	"github.com/BaSui01/reflex/vectordb"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 把配置装配为可运行的缓存网关.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager

	tiered  *cache.TieredCache
	reaper  *cache.Reaper
	otel    *telemetry.Providers
	metrics *metrics.Collector

	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler
	adminHandler  *handlers.AdminHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer 按配置装配全部组件.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}

	s.metrics = metrics.NewCollector("reflex", logger)

	store, err := storage.NewArchiveStore(cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("init archive store: %w", err)
	}

	embedder := buildEmbedder(cfg, logger)

	index, err := vectordb.NewQdrantIndex(vectordb.QdrantConfig{
		BaseURL:    cfg.QdrantURL,
		VectorSize: embedder.Dimensions(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init vector index: %w", err)
	}

	verifier, err := buildVerifier(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	l1, err := cache.NewExactCache(cfg.L1Capacity)
	if err != nil {
		return nil, fmt.Errorf("init exact cache: %w", err)
	}

	l2 := cache.NewSemanticCache(store, index, embedder, cache.L2Config{}, logger)

	s.tiered = cache.NewTieredCache(l1, l2, verifier, store, index, s.metrics, logger)

	// 空闲租户回收:请求活动由缓存观察钩子上报.
	s.reaper = cache.NewReaper(l1, cache.DefaultReapInterval, cache.DefaultIdleTTL, logger)
	s.tiered.AddObserver(s.reaper.Observe)

	provider, err := buildUpstream(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init upstream provider: %w", err)
	}

	s.healthHandler = handlers.NewHealthHandler(s.tiered, Version)
	s.chatHandler = handlers.NewChatHandler(s.tiered, provider, s.metrics, logger)
	s.adminHandler = handlers.NewAdminHandler(s.tiered, logger)

	logger.Info("components initialized",
		zap.String("embedder", embedder.Name()),
		zap.String("upstream", provider.Name()),
		zap.Bool("reranker", verifier.Enabled()),
	)

	return s, nil
}

func buildEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Provider {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		logger.Info("model path not configured, using deterministic stub embedder")
		return embedding.NewStubProvider(embedding.DefaultDimensions)
	}
	return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL: cfg.ModelPath,
	}, logger)
}

func buildVerifier(cfg *config.Config, logger *zap.Logger) (*rerank.Verifier, error) {
	var provider rerank.Provider
	if strings.TrimSpace(cfg.RerankerPath) != "" {
		provider = rerank.NewHTTPProvider(rerank.HTTPConfig{
			BaseURL: cfg.RerankerPath,
		})
	} else {
		logger.Info("reranker path not configured, semantic hits served unverified")
	}
	return rerank.NewVerifier(provider, cfg.RerankerThreshold, logger)
}

func buildUpstream(cfg *config.Config, logger *zap.Logger) (upstream.Provider, error) {
	if cfg.MockProvider {
		logger.Info("mock upstream provider enabled")
		return upstream.NewMockProvider(), nil
	}
	return upstream.NewHTTPProvider(upstream.HTTPConfig{
		BaseURL: cfg.UpstreamURL,
	}, logger)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动 HTTP 服务与后台回收.
func (s *Server) Start() error {
	s.reaper.Start()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("server started",
		zap.String("addr", s.cfg.SocketAddr()),
		zap.Bool("rate_limit", s.cfg.RateLimit.Enabled),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 探针与指标
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.Handle("/metrics", promhttp.Handler())

	// 补全网关
	mux.Handle("/v1/chat/completions", s.chatHandler)

	// 缓存运维
	mux.HandleFunc("/v1/cache/stats", s.adminHandler.HandleStats)
	mux.HandleFunc("/v1/cache/", s.adminHandler.HandlePurgeTenant)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing("reflex"))
	}
	if s.cfg.RateLimit.Enabled {
		rateLimiterCtx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = s.cfg.SocketAddr()

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有组件.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.reaper != nil {
		s.reaper.Stop()
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
