// 版权所有 2025 Reflex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力,覆盖 HTTP、
缓存命中、准入、索引与上游调用等维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标,使用 promauto
自动注册机制,避免手动管理 Registry。所有指标按 namespace 隔离,
nil Collector 上的所有方法都是空操作,便于测试关闭指标采集。

# 核心类型

  - Collector:指标收集器,持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标,按业务域分组管理。

# 主要能力

  - HTTP 指标:请求总数与耗时,按 method/path/status 分组,
    带参数的路径折叠为模板避免基数爆炸。
  - 查找指标:各层命中计数与查找耗时,按命中层级分组。
  - 准入指标:准入成功与失败计数。
  - 节省指标:缓存命中替代上游生成所节省的补全 Token 数。
  - 索引与上游指标:重试耗尽的索引写入计数、上游补全调用计数。
*/
package metrics
