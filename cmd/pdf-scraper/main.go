package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/api/handler"
	"github.com/hamdidilekci/pdf-scraper/internal/api/router"
	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/llm"
	appLogger "github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/processor"
	"github.com/hamdidilekci/pdf-scraper/internal/storage"
	"github.com/hamdidilekci/pdf-scraper/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"       //nolint:gochecknoglobals
	serviceName = "pdf-scraper" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	hlog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg, serviceName, version)
	if err != nil {
		hlog.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			hlog.Warnf("链路追踪关闭失败: %v", err)
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		hlog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	hlog.Info("存储服务初始化成功")

	analyzer := parser.NewPDFAnalyzer(
		parser.WithScanLimit(cfg.Extraction.ClassifierScanBytes),
		parser.WithMinTextTokens(cfg.Extraction.MinTextTokens),
		parser.WithDominanceMargin(cfg.Extraction.DominanceMargin),
	)
	rasterizer := parser.NewPDFRasterizer(cfg.Extraction.MaxPages)

	gateway, err := llm.NewOpenAIGateway(cfg)
	if err != nil {
		hlog.Fatalf("初始化模型网关失败: %v", err)
	}
	hlog.Info("模型网关初始化成功")

	extractor, err := processor.NewResumeExtractor(processor.Components{
		Analyzer:   analyzer,
		Rasterizer: rasterizer,
		Gateway:    gateway,
		Repo:       storageManager.MySQL,
		Fetcher:    storageManager.MinIO,
	}, cfg)
	if err != nil {
		hlog.Fatalf("初始化简历提取器失败: %v", err)
	}
	hlog.Info("简历提取器初始化成功")

	resumeHandler := handler.NewResumeHandler(cfg, storageManager.MySQL, storageManager.MinIO, storageManager.Redis, extractor)
	extractHandler := handler.NewExtractHandler(cfg, analyzer, storageManager.MySQL)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, resumeHandler, extractHandler)
	hlog.Info("HTTP路由注册成功")

	go func() {
		hlog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			hlog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	hlog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		hlog.Fatalf("服务器关闭失败: %v", err)
	}
	hlog.Info("优雅退出完成")
}

// initLogger 初始化zerolog并把Hertz的hlog桥接到同一个输出
func initLogger(cfg *config.Config) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Logger.Level); err == nil && cfg.Logger.Level != "" {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Logger.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.Logger.TimeFormat
	}

	var out zerolog.Logger
	if cfg.Logger.Format == "pretty" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		out = zerolog.New(os.Stderr)
	}

	logCtx := out.With().Timestamp().Str("app", serviceName).Str("version", version)
	if cfg.Logger.ReportCaller {
		logCtx = logCtx.Caller()
	}
	logger := logCtx.Logger()

	appLogger.Logger = logger
	zlog.Logger = logger

	hlog.SetLogger(hertzadapter.From(logger))
	if level <= zerolog.DebugLevel {
		hlog.SetLevel(hlog.LevelDebug)
	}
}
