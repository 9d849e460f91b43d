// Package config 提供服务配置加载:默认值 → YAML 文件 → 环境变量.
// 环境变量优先级最高;数值型变量解析失败视为启动错误,绝不静默回退.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/reflex/types"
)

// Environment variable names.
const (
	EnvPort              = "REFLEX_PORT"
	EnvBindAddr          = "REFLEX_BIND_ADDR"
	EnvStoragePath       = "REFLEX_STORAGE_PATH"
	EnvQdrantURL         = "REFLEX_QDRANT_URL"
	EnvL1Capacity        = "REFLEX_L1_CAPACITY"
	EnvModelPath         = "REFLEX_MODEL_PATH"
	EnvRerankerPath      = "REFLEX_RERANKER_PATH"
	EnvRerankerThreshold = "REFLEX_RERANKER_THRESHOLD"
	EnvMockProvider      = "REFLEX_MOCK_PROVIDER"
	EnvUpstreamURL       = "REFLEX_UPSTREAM_URL"
	EnvConfigPath        = "REFLEX_CONFIG_PATH"
	EnvLogLevel          = "REFLEX_LOG_LEVEL"
)

// DefaultQdrantURL 是本地 Qdrant 的默认地址.
const DefaultQdrantURL = "http://localhost:6334"

// RateLimitConfig 配置网关限流,默认关闭.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// TelemetryConfig 配置 OTLP 追踪导出,默认关闭.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config 是服务的全部运行配置.
type Config struct {
	Port              int     `yaml:"port"`
	BindAddr          string  `yaml:"bind_addr"`
	StoragePath       string  `yaml:"storage_path"`
	QdrantURL         string  `yaml:"qdrant_url"`
	L1Capacity        int     `yaml:"l1_capacity"`
	ModelPath         string  `yaml:"model_path"`
	RerankerPath      string  `yaml:"reranker_path"`
	RerankerThreshold float64 `yaml:"reranker_threshold"`
	MockProvider      bool    `yaml:"mock_provider"`
	UpstreamURL       string  `yaml:"upstream_url"`
	LogLevel          string  `yaml:"log_level"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Port:              8080,
		BindAddr:          "127.0.0.1",
		StoragePath:       "./.data",
		QdrantURL:         DefaultQdrantURL,
		L1Capacity:        10000,
		RerankerThreshold: 0.70,
		LogLevel:          "info",
	}
}

// SocketAddr 返回监听地址.
func (c *Config) SocketAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Load 按 默认值 → YAML → 环境变量 的顺序装配配置并校验.
// 配置文件路径来自 REFLEX_CONFIG_PATH,未设置则跳过文件层.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewError(types.ErrConfigInvalid, "read config file: "+path).WithCause(err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return types.NewError(types.ErrConfigInvalid, "parse config file: "+path).WithCause(err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v, ok := os.LookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return types.NewError(types.ErrConfigInvalid,
				fmt.Sprintf("%s is not a valid port: %q", EnvPort, v)).WithCause(err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv(EnvBindAddr); ok {
		c.BindAddr = v
	}
	if v, ok := os.LookupEnv(EnvStoragePath); ok {
		c.StoragePath = v
	}
	if v, ok := os.LookupEnv(EnvQdrantURL); ok {
		c.QdrantURL = v
	}
	if v, ok := os.LookupEnv(EnvL1Capacity); ok {
		capacity, err := strconv.Atoi(v)
		if err != nil {
			return types.NewError(types.ErrConfigInvalid,
				fmt.Sprintf("%s is not a valid integer: %q", EnvL1Capacity, v)).WithCause(err)
		}
		c.L1Capacity = capacity
	}
	if v, ok := os.LookupEnv(EnvModelPath); ok {
		c.ModelPath = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvRerankerPath); ok {
		c.RerankerPath = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvRerankerThreshold); ok {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return types.NewError(types.ErrConfigInvalid,
				fmt.Sprintf("%s is not a valid number: %q", EnvRerankerThreshold, v)).WithCause(err)
		}
		c.RerankerThreshold = threshold
	}
	if v, ok := os.LookupEnv(EnvMockProvider); ok {
		c.MockProvider = parseBool(v)
	}
	if v, ok := os.LookupEnv(EnvUpstreamURL); ok {
		c.UpstreamURL = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate 校验配置的结构性约束.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("port out of range: %d", c.Port))
	}
	if net.ParseIP(c.BindAddr) == nil {
		return types.NewError(types.ErrConfigInvalid, "bind addr is not a valid IP: "+c.BindAddr)
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return types.NewError(types.ErrConfigInvalid, "storage path is required")
	}
	if info, err := os.Stat(c.StoragePath); err == nil && !info.IsDir() {
		return types.NewError(types.ErrConfigInvalid, "storage path is not a directory: "+c.StoragePath)
	}
	if c.L1Capacity <= 0 {
		return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("l1 capacity must be > 0: %d", c.L1Capacity))
	}
	if c.RerankerThreshold < 0 || c.RerankerThreshold > 1 {
		return types.NewError(types.ErrConfigInvalid,
			fmt.Sprintf("reranker threshold must be in [0, 1]: %g", c.RerankerThreshold))
	}
	if !c.MockProvider && strings.TrimSpace(c.UpstreamURL) == "" {
		return types.NewError(types.ErrConfigInvalid, "upstream url is required unless mock provider is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return types.NewError(types.ErrConfigInvalid, "rate limit rps must be > 0 when enabled")
	}
	return nil
}
