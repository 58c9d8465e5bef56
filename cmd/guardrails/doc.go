// Copyright (c) AIOBS Authors.
// Licensed under the MIT License.

/*
Package main 提供 guardrails 服务端程序入口。

# 概述

cmd/guardrails 是护栏检测管线的可执行入口，提供 HTTP API 服务、
本地扫描、健康检查和版本查询等子命令。配置按 默认值 → YAML →
环境变量（GUARDRAILS_ 前缀）加载，日志使用 zap，指标通过 Prometheus
暴露，链路追踪可选接入 OTLP。

# 核心类型

  - Server: 主服务器，管理引擎、事件存储、HTTP 与 Metrics 双端口
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、scan（被拦截时退出码为 3）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    Metrics、RequestLogger、CORS、BodyLimit、APIKeyAuth、JWTAuth、
    RateLimiter（按租户或 IP）
  - 事件存储：memory（进程内）、database（postgres/mysql/sqlite）、redis
  - 优雅关闭：信号监听 → 停止限流清理 → 关闭 HTTP → 关闭 Metrics →
    关闭存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
