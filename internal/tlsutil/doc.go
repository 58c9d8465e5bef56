// Package tlsutil 提供出站连接的 TLS 配置（TLS 1.2+，仅 AEAD 密码套件），
// 用于 Redis 事件存储和 health 子命令的探活客户端。
package tlsutil
