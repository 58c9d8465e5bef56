package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/api/handlers"
	"github.com/E4Itraining/AIOBS-sub000/config"
	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/E4Itraining/AIOBS-sub000/internal/incidentstore"
	"github.com/E4Itraining/AIOBS-sub000/internal/metrics"
	"github.com/E4Itraining/AIOBS-sub000/internal/server"
	"github.com/E4Itraining/AIOBS-sub000/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// 不需要认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// API 路由，同时作为 HTTP 指标的 path 标签白名单
const (
	routeEvaluate      = "/api/v1/guardrails/evaluate"
	routeInjection     = "/api/v1/guardrails/injection"
	routeJailbreak     = "/api/v1/guardrails/jailbreak"
	routeDataLeak      = "/api/v1/guardrails/data-leak"
	routeContentSafety = "/api/v1/guardrails/content-safety"
	routeBias          = "/api/v1/guardrails/bias"
	routeIncidents     = "/api/v1/guardrails/incidents"
	routeMetrics       = "/api/v1/guardrails/metrics"
	routeConfig        = "/api/v1/guardrails/config"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是护栏服务的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector

	// 护栏引擎与事件存储（memory 模式下 store 为 nil）
	engine *guardrails.Engine
	store  incidentstore.Store

	// Handlers
	healthHandler     *handlers.HealthHandler
	guardrailsHandler *handlers.GuardrailsHandler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例。otelProviders 可为 nil。
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, collector *metrics.Collector) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: otelProviders,
		collector: collector,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化引擎与 handlers，然后启动 HTTP 与 Metrics 服务器
func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("incident_store", s.cfg.Incidents.Store),
	)
	return nil
}

// Init 构建事件存储、护栏引擎与 handlers，不监听端口
func (s *Server) Init(ctx context.Context) error {
	if err := s.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to init guardrails engine: %w", err)
	}
	s.initHandlers()
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initEngine 打开事件存储并创建引擎。持久化存储作为 Recorder 的 sink。
func (s *Server) initEngine(ctx context.Context) error {
	store, err := incidentstore.Open(ctx, s.cfg, incidentstore.Hooks{
		Operation: s.collector.RecordStoreOperation,
		PoolStats: s.collector.RecordStoreConnections,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("open incident store: %w", err)
	}
	s.store = store

	recorderOpts := []guardrails.RecorderOption{guardrails.WithRecorderLogger(s.logger)}
	if store != nil {
		recorderOpts = append(recorderOpts, guardrails.WithSink(store))
	}

	engineOpts := []guardrails.Option{
		guardrails.WithLogger(s.logger),
		guardrails.WithObserver(s.collector),
		guardrails.WithRecorder(guardrails.NewRecorder(recorderOpts...)),
	}
	if s.telemetry != nil {
		engineOpts = append(engineOpts, s.telemetry.EngineOptions()...)
	}

	engine, err := guardrails.NewEngine(s.cfg.Engine, engineOpts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return err
	}
	s.engine = engine

	s.logger.Info("guardrails engine initialized",
		zap.Any("enabled_classes", engine.Config().EnabledClasses),
		zap.Duration("detector_timeout", engine.Config().DetectorTimeout),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger).WithVersion(Version)

	var reader handlers.IncidentReader = incidentstore.NewRecorderReader(s.engine.Recorder())
	if s.store != nil {
		reader = s.store
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("incident_store_"+s.store.Backend(), s.store.Ping))
	}

	s.guardrailsHandler = handlers.NewGuardrailsHandler(s.engine, reader, handlers.GuardrailsHandlerConfig{
		DefaultPageSize: s.cfg.Incidents.DefaultPageSize,
		MaxBodyBytes:    s.cfg.Server.MaxBodyBytes,
	}, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// Handler 构建带完整中间件链的 HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 护栏 API
	g := s.guardrailsHandler
	mux.HandleFunc("POST "+routeEvaluate, g.HandleEvaluate)
	mux.HandleFunc("POST "+routeInjection, g.HandleInjection)
	mux.HandleFunc("POST "+routeJailbreak, g.HandleJailbreak)
	mux.HandleFunc("POST "+routeDataLeak, g.HandleDataLeak)
	mux.HandleFunc("POST "+routeContentSafety, g.HandleContentSafety)
	mux.HandleFunc("POST "+routeBias, g.HandleBias)
	mux.HandleFunc("GET "+routeIncidents, g.HandleIncidents)
	mux.HandleFunc("GET "+routeMetrics, g.HandleMetrics)
	mux.HandleFunc("GET "+routeConfig, g.HandleConfig)

	routes := append([]string{
		routeEvaluate, routeInjection, routeJailbreak, routeDataLeak, routeContentSafety,
		routeBias, routeIncidents, routeMetrics, routeConfig,
	}, publicPaths...)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(s.telemetry.Tracer()),
		MetricsMiddleware(s.collector, routes),
		RequestLogger(s.logger, publicPaths),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		BodyLimit(s.cfg.Server.MaxBodyBytes),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, publicPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	if s.cfg.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, publicPaths, s.logger))
	}

	// 限流放在认证之后，已认证请求按租户计数
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	s.rateLimiterCancel = rateLimiterCancel
	middlewares = append(middlewares,
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))

	return Chain(mux, middlewares...)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}

	s.httpManager = server.NewManager(s.Handler(), serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 在独立端口暴露 Prometheus 指标
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务器错误，然后优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭：HTTP → Metrics → 事件存储 → 遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 在途评估已结束，可以安全关闭事件存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Incident store close error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	if s.engine != nil {
		m := s.engine.Metrics()
		s.logger.Info("Graceful shutdown completed",
			zap.Uint64("total_requests", m.TotalRequests),
			zap.Uint64("incidents_total", m.IncidentsTotal),
		)
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
