package api

import (
	"github.com/E4Itraining/AIOBS-sub000/guardrails"
)

// =============================================================================
// 护栏评估类型
// =============================================================================

// EvaluateRequest 是 POST /api/v1/guardrails/evaluate 的请求体
// @Description 多类别评估请求
type EvaluateRequest = guardrails.DetectionRequest

// ScanRequest 是单类别端点的请求体
// @Description 单类别扫描请求
type ScanRequest = guardrails.ScanRequest

// =============================================================================
// 事件查询类型
// =============================================================================

// IncidentPage 事件分页结果
// @Description 按时间升序的事件分页
type IncidentPage struct {
	// 当前页事件
	Items []guardrails.Incident `json:"items"`
	// 忽略分页后的匹配总数
	Total int64 `json:"total" example:"42"`
	// 本页大小
	Limit int `json:"limit" example:"50"`
	// 起始偏移
	Offset int `json:"offset" example:"0"`
}

// HasMore 是否还有下一页
func (p IncidentPage) HasMore() bool {
	return int64(p.Offset+len(p.Items)) < p.Total
}
