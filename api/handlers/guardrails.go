package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/api"
	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/E4Itraining/AIOBS-sub000/types"
	"go.uber.org/zap"
)

// MaxIncidentPageSize 单页事件上限
const MaxIncidentPageSize = 1000

// IncidentReader 查询事件日志，incidentstore.Reader 满足该接口
type IncidentReader interface {
	List(ctx context.Context, filter *guardrails.IncidentFilter) ([]guardrails.Incident, int64, error)
}

// =============================================================================
// 🛡️ 护栏 Handler
// =============================================================================

// GuardrailsHandler 护栏评估与事件查询处理器
type GuardrailsHandler struct {
	engine          *guardrails.Engine
	incidents       IncidentReader
	defaultPageSize int
	maxBodyBytes    int64
	logger          *zap.Logger
}

// GuardrailsHandlerConfig 处理器配置
type GuardrailsHandlerConfig struct {
	DefaultPageSize int
	MaxBodyBytes    int64
}

// NewGuardrailsHandler 创建护栏处理器
func NewGuardrailsHandler(engine *guardrails.Engine, incidents IncidentReader, cfg GuardrailsHandlerConfig, logger *zap.Logger) *GuardrailsHandler {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.DefaultPageSize > MaxIncidentPageSize {
		cfg.DefaultPageSize = MaxIncidentPageSize
	}
	return &GuardrailsHandler{
		engine:          engine,
		incidents:       incidents,
		defaultPageSize: cfg.DefaultPageSize,
		maxBodyBytes:    cfg.MaxBodyBytes,
		logger:          logger.With(zap.String("handler", "guardrails")),
	}
}

// HandleEvaluate 处理多类别评估
// @Summary 护栏评估
// @Description 对文本执行全部启用类别的检测，返回综合建议与改写文本
// @Tags 护栏
// @Accept json
// @Produce json
// @Param request body api.EvaluateRequest true "评估请求"
// @Success 200 {object} guardrails.Outcome "评估结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Security ApiKeyAuth
// @Router /api/v1/guardrails/evaluate [post]
func (h *GuardrailsHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.EvaluateRequest
	if err := DecodeJSONBodyLimit(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if req.ID == "" {
		req.ID = w.Header().Get(RequestIDHeader)
	}
	req.Context = enrichContext(r.Context(), req.Context, r.URL.Path)

	out, err := h.engine.Evaluate(r.Context(), &req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Debug("guardrails evaluation",
		zap.String("request_id", out.RequestID),
		zap.String("direction", string(out.Direction)),
		zap.String("recommendation", string(out.Recommendation)),
		zap.Duration("duration", out.ProcessingTime),
	)

	WriteSuccess(w, out)
}

// HandleInjection 处理提示注入检测
// @Router /api/v1/guardrails/injection [post]
func (h *GuardrailsHandler) HandleInjection(w http.ResponseWriter, r *http.Request) {
	serveScan(h, w, r, h.engine.AnalyzePromptInjection)
}

// HandleJailbreak 处理越狱检测
// @Router /api/v1/guardrails/jailbreak [post]
func (h *GuardrailsHandler) HandleJailbreak(w http.ResponseWriter, r *http.Request) {
	serveScan(h, w, r, h.engine.DetectJailbreak)
}

// HandleDataLeak 处理数据泄露扫描
// @Router /api/v1/guardrails/data-leak [post]
func (h *GuardrailsHandler) HandleDataLeak(w http.ResponseWriter, r *http.Request) {
	serveScan(h, w, r, h.engine.ScanDataLeaks)
}

// HandleContentSafety 处理内容安全检测
// @Router /api/v1/guardrails/content-safety [post]
func (h *GuardrailsHandler) HandleContentSafety(w http.ResponseWriter, r *http.Request) {
	serveScan(h, w, r, h.engine.CheckContentSafety)
}

// HandleBias 处理偏见检测
// @Router /api/v1/guardrails/bias [post]
func (h *GuardrailsHandler) HandleBias(w http.ResponseWriter, r *http.Request) {
	serveScan(h, w, r, h.engine.DetectBias)
}

func serveScan[T any](h *GuardrailsHandler, w http.ResponseWriter, r *http.Request,
	scan func(context.Context, guardrails.ScanRequest) (*T, error)) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ScanRequest
	if err := DecodeJSONBodyLimit(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if req.ID == "" {
		req.ID = w.Header().Get(RequestIDHeader)
	}
	req.Context = enrichContext(r.Context(), req.Context, r.URL.Path)

	result, err := scan(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleIncidents 查询事件日志
// 支持 class、severity、status、tenant_id、request_id、since、until（RFC3339）、limit、offset。
// 调用方身份携带租户时只能查询本租户事件。
// @Summary 事件查询
// @Tags 护栏
// @Produce json
// @Success 200 {object} api.IncidentPage "事件分页"
// @Failure 400 {object} Response "无效查询"
// @Failure 403 {object} Response "跨租户查询"
// @Failure 503 {object} Response "存储不可用"
// @Security ApiKeyAuth
// @Router /api/v1/guardrails/incidents [get]
func (h *GuardrailsHandler) HandleIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseIncidentFilter(r.URL.Query())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if tenant, ok := types.TenantID(r.Context()); ok && tenant != "" {
		if filter.TenantID != "" && filter.TenantID != tenant {
			WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden,
				"cannot query incidents of another tenant", h.logger)
			return
		}
		filter.TenantID = tenant
	}

	items, total, listErr := h.incidents.List(r.Context(), filter)
	if listErr != nil {
		WriteAnyError(w, listErr, h.logger)
		return
	}
	if items == nil {
		items = []guardrails.Incident{}
	}

	WriteSuccess(w, api.IncidentPage{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleMetrics 返回引擎计数快照
// @Router /api/v1/guardrails/metrics [get]
func (h *GuardrailsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.Metrics())
}

// HandleConfig 返回生效中的引擎配置
// @Router /api/v1/guardrails/config [get]
func (h *GuardrailsHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.Config())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *GuardrailsHandler) parseIncidentFilter(q url.Values) (*guardrails.IncidentFilter, *types.Error) {
	filter := &guardrails.IncidentFilter{
		TenantID:  q.Get("tenant_id"),
		RequestID: q.Get("request_id"),
		Limit:     h.defaultPageSize,
	}

	if v := q.Get("class"); v != "" {
		c := guardrails.ThreatClass(v)
		if !c.Valid() {
			return nil, invalidQuery("class", v)
		}
		filter.Class = c
	}
	if v := q.Get("severity"); v != "" {
		s := guardrails.Severity(v)
		switch s {
		case guardrails.SeverityCritical, guardrails.SeverityHigh, guardrails.SeverityMedium,
			guardrails.SeverityLow, guardrails.SeverityInfo:
		default:
			return nil, invalidQuery("severity", v)
		}
		filter.Severity = s
	}
	if v := q.Get("status"); v != "" {
		s := guardrails.IncidentStatus(v)
		if s != guardrails.IncidentOpen && s != guardrails.IncidentResolved {
			return nil, invalidQuery("status", v)
		}
		filter.Status = s
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, invalidQuery(p.key, v)
		}
		*p.dst = &t
	}
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return nil, types.NewError(types.ErrInvalidRequest, "until must not be before since")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxIncidentPageSize {
			return nil, invalidQuery("limit", v)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, invalidQuery("offset", v)
		}
		filter.Offset = n
	}

	return filter, nil
}

func invalidQuery(key, value string) *types.Error {
	return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid %s: %q", key, value))
}

// enrichContext 合并认证中间件写入的身份。Endpoint 始终取自路由，
// 上下文中的身份优先于请求体。经过令牌认证时请求体中的用户、租户、
// 模型与角色一律丢弃，防止调用方自报豁免身份。
func enrichContext(ctx context.Context, rc guardrails.RequestContext, endpoint string) guardrails.RequestContext {
	rc.Endpoint = endpoint
	rc.Roles = nil
	if types.Authenticated(ctx) {
		rc.UserID, rc.TenantID, rc.ModelID, rc.Role = "", "", "", ""
	}

	if v, ok := types.UserID(ctx); ok {
		rc.UserID = v
	}
	if v, ok := types.TenantID(ctx); ok {
		rc.TenantID = v
	}
	if v, ok := types.ModelID(ctx); ok {
		rc.ModelID = v
	}
	if roles, ok := types.Roles(ctx); ok {
		rc.Roles = roles
		rc.Role = roles[0]
	}
	return rc
}
