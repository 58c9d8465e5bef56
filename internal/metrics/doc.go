/*
包 metrics 提供基于 Prometheus 的护栏服务指标采集能力，覆盖
HTTP、护栏评估与事件存储三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
Collector 实现 guardrails.Observer，可直接通过 guardrails.WithObserver
挂到引擎上。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 护栏指标：按 direction/recommendation 统计评估次数与耗时，
    按类别统计判定与分数分布，检测器失败与安全事件计数。
  - 存储指标：连接池 Gauge、操作耗时 Histogram 与失败计数，
    按 backend/operation 分组。
*/
package metrics
