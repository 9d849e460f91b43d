// 版权所有 2025 Reflex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 Reflex 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 cache、storage、gateway
等上层模块提供统一的类型契约。跨包共享的结构体与错误码均定义于此，
以避免循环依赖。

# 核心类型

  - ChatRequest / ChatResponse — OpenAI 兼容的补全请求与响应
  - ChatMessage / ChatChoice / ChatUsage — 消息、选择与用量
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 错误构造链：NewError + WithCause / WithHTTPStatus / WithRetryable / WithTenant
  - 错误检查：GetErrorCode / IsRetryable，errors.As 兼容的 Unwrap
*/
package types
