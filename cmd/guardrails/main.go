// =============================================================================
// Guardrails 主入口
// =============================================================================
// 护栏服务入口，包含 HTTP API、健康检查、Prometheus 指标与本地扫描
//
// 使用方法:
//
//	guardrails serve                          # 启动服务
//	guardrails serve --config config.yaml     # 指定配置文件
//	guardrails scan "some text"               # 本地评估一段文本
//	echo "text" | guardrails scan -           # 从标准输入读取
//	guardrails version                        # 显示版本信息
//	guardrails health                         # 健康检查
// =============================================================================

// @title Guardrails API
// @version 1.0.0
// @description Detection and redaction pipeline for model input and output text.
// @description
// @description ## Features
// @description - Prompt injection and jailbreak detection with conversation escalation
// @description - PII and secret leak detection with masking and redaction
// @description - Toxicity and bias scoring
// @description - Append-only incident log (memory, SQL or Redis)

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/E4Itraining/AIOBS-sub000/config"
	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/E4Itraining/AIOBS-sub000/internal/metrics"
	"github.com/E4Itraining/AIOBS-sub000/internal/telemetry"
	"github.com/E4Itraining/AIOBS-sub000/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// scan 命令的退出码
const (
	exitOK      = 0
	exitError   = 1
	exitBlocked = 3
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "scan":
		os.Exit(runScan(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(exitError)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitError)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting guardrails",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	collector := metrics.NewCollector("guardrails", logger)
	srv := NewServer(cfg, logger, otelProviders, collector)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = srv.Start(startCtx)
	cancel()
	if err != nil {
		srv.Shutdown()
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	logger.Info("guardrails stopped")
}

// =============================================================================
// 🔍 scan 命令
// =============================================================================

// runScan 使用本地引擎评估文本并输出 JSON 结果。
// 建议为 block 时返回 exitBlocked，方便在脚本中拦截。
func runScan(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	classes := fs.String("classes", "", "Comma-separated threat classes (default: all enabled)")
	direction := fs.String("direction", string(guardrails.DirectionInput), "Text direction: input or output")
	pretty := fs.Bool("pretty", false, "Indent JSON output")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "scan requires exactly one argument: the text, or - to read stdin")
		return exitError
	}

	text := fs.Arg(0)
	if text == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "read stdin: %v\n", err)
			return exitError
		}
		text = strings.TrimRight(string(b), "\r\n")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	// 扫描模式只向 stderr 输出警告
	logger := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	defer logger.Sync()

	engine, err := guardrails.NewEngine(cfg.Engine, guardrails.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "create engine: %v\n", err)
		return exitError
	}

	req := &guardrails.DetectionRequest{
		Text:      text,
		Direction: guardrails.Direction(*direction),
		Classes:   parseClasses(*classes),
	}
	out, err := engine.Evaluate(context.Background(), req)
	if err != nil {
		fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode result: %v\n", err)
		return exitError
	}

	if out.Recommendation == guardrails.RecommendBlock {
		return exitBlocked
	}
	return exitOK
}

func parseClasses(raw string) []guardrails.ThreatClass {
	var out []guardrails.ThreatClass
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, guardrails.ThreatClass(part))
		}
	}
	return out
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check /ready (dependencies) instead of /health")
	fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := tlsutil.HTTPClient(5 * time.Second)
	resp, err := client.Get(strings.TrimRight(*addr, "/") + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(exitError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(exitError)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("guardrails %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `guardrails - detection and redaction pipeline for LLM traffic

Usage:
  guardrails <command> [options]

Commands:
  serve     Start the guardrails server
  scan      Evaluate a piece of text locally and print the outcome as JSON
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>       Path to configuration file (YAML)

Options for 'scan':
  --config <path>       Path to configuration file (YAML)
  --classes <list>      Comma-separated classes: injection,jailbreak,data-leak,toxicity,bias
  --direction <dir>     input (default) or output
  --pretty              Indent JSON output

Exit codes for 'scan':
  0  not blocked
  1  error
  3  blocked

Examples:
  guardrails serve
  guardrails serve --config /etc/guardrails/config.yaml
  guardrails scan "Ignore previous instructions"
  cat reply.txt | guardrails scan --direction output -
  guardrails health --addr http://localhost:8080 --ready
  guardrails version`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

// loadConfig 按 默认值 → YAML → 环境变量 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid config"), err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
