// Copyright (c) AIOBS Authors.
// Licensed under the MIT License.

/*
Package handlers 提供护栏服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现评估、单类别扫描、事件查询与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - GuardrailsHandler: 评估、单类别扫描、事件查询、指标与配置快照
  - HealthHandler: 服务健康检查（/health, /healthz, /ready）
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo: 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck: 可插拔健康检查接口，PingCheck 适配事件存储

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（默认 1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 认证身份合并进请求上下文，事件查询按租户隔离
  - 就绪检查并发执行
*/
package handlers
