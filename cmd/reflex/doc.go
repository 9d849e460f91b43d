// 版权所有 2025 Reflex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 Reflex 服务端程序入口。

# 概述

cmd/reflex 是语义响应缓存网关的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OTLP 追踪导出。

# 核心类型

  - Server           — 主服务器，装配缓存分层、上游转发与优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、RateLimiter（基于 IP，默认关闭）
  - 路由：/v1/chat/completions、/v1/cache/stats、/v1/cache/{tenant}、
    /healthz、/ready、/metrics
  - 优雅关闭：信号监听 → 关闭 HTTP → 停止回收循环 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
