// 版权所有 2025 Reflex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 Reflex HTTP API 的请求处理器实现。

# 概述

handlers 包实现了网关所有 HTTP 端点的请求处理逻辑，
包括补全缓存流程、缓存运维、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ChatHandler      — 补全网关，L1/L3 命中直接返回，未命中转发上游并回填
  - AdminHandler     — 缓存统计与按租户清理
  - HealthHandler    — 存活与就绪探针（/healthz, /ready）
  - ErrorResponse    — 统一错误响应结构（code + message）

# 缓存状态

每个补全响应携带 X-Reflex-Status 头，取值 hit-l1-exact、
hit-l3-verified 或 miss。流式请求恒为 miss 并直接透传上游。
*/
package handlers
