// Package config 提供护栏服务的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量形如 GUARDRAILS_<SECTION>_<FIELD>，
// 例如 GUARDRAILS_ENGINE_THRESHOLDS_INJECTION=0.8。
package config
