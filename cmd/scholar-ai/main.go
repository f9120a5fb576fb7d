package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/api/handler"
	"scholar-ai-go/internal/api/router"
	"scholar-ai-go/internal/config"
	appCoreLogger "scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/orchestrator"
	"scholar-ai-go/internal/parser"
	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/ratelimit"
	"scholar-ai-go/internal/scheduler"
	"scholar-ai-go/internal/storage"
	"scholar-ai-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

var (
	version = "1.0.0" //nolint:gochecknoglobals
)

func main() {
	var (
		configPath string
		initConfig string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.StringVar(&initConfig, "init-config", "", "生成示例配置文件后退出")
	pflag.Parse()

	if initConfig != "" {
		if err := config.CreateSampleConfig(initConfig); err != nil {
			appCoreLogger.Fatal().Err(err).Msg("生成示例配置失败")
		}
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("加载配置失败")
	}
	initLogger(cfg.Logger)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, version)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	llm, err := newChatModel(cfg)
	if err != nil {
		glog.Fatalf("初始化推理服务客户端失败: %v", err)
	}

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithParseTimeout(30*time.Second))
	if err != nil {
		glog.Fatalf("创建 PDF 提取器失败: %v", err)
	}

	validator := processor.NewSchemaValidator()
	svc := orchestrator.Services{
		Ingestion: processor.NewIngestionService(llm, validator,
			processor.WithDocumentExtractor(pdfExtractor),
			processor.WithIngestionModel(cfg.GetModelForTask(processor.TaskExtract)),
			processor.WithIngestionMetrics(m),
		),
		Discovery: processor.NewDiscoveryService(llm, validator,
			processor.WithMaxResults(cfg.Discovery.MaxResults),
			processor.WithDiscoveryModel(cfg.GetModelForTask(processor.TaskDiscover)),
			processor.WithSearch(cfg.LLM.EnableSearch),
			processor.WithDiscoveryMetrics(m),
		),
		Insights: processor.NewInsightGenerator(llm,
			cfg.GetModelForTask(processor.TaskSummary),
			cfg.GetModelForTask(processor.TaskFeedback),
			m,
		),
		Planner: processor.NewPlanService(llm,
			processor.WithPlanMode(cfg.Planner.Mode),
			processor.WithPlanModel(cfg.GetModelForTask(processor.TaskPlan)),
			processor.WithPlanMetrics(m),
		),
		Chat: agent.NewChatAssistant(llm, agent.NewInMemoryChatMemory(cfg.Chat.MaxHistory), cfg.GetModelForTask("chat")),
	}
	glog.Info("业务服务初始化成功")

	orch := orchestrator.New(svc, storageManager.State,
		orchestrator.WithOwnerID(cfg.State.OwnerID),
		orchestrator.WithLanguage(cfg.State.DefaultLanguage),
		orchestrator.WithAutoPlan(cfg.Planner.AutoGenerate),
		orchestrator.WithArchiver(storageManager.Archiver()),
		orchestrator.WithPublisher(storageManager.Publisher()),
		orchestrator.WithMetrics(m),
	)
	if err := orch.Bootstrap(ctx); err != nil {
		// 恢复失败时停在 error 阶段，仍然启动 HTTP 以便重试或重置
		glog.Errorf("恢复状态失败: %v", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		var locker scheduler.Locker
		if storageManager.Redis != nil {
			locker = storageManager.Redis
		}
		sched = scheduler.New(cfg.Scheduler.RescanCron, orch, locker, orch.OwnerID())
		if err := sched.Start(ctx); err != nil {
			glog.Fatalf("启动定时重扫失败: %v", err)
		}
	}

	h := router.NewServer(cfg.Server.Address, cfg.Server.MaxUploadMB)
	router.RegisterRoutes(h, handler.NewScholarHandler(orch, cfg.Server.MaxUploadMB), router.Options{
		APIKey:   cfg.Server.APIKey,
		Gatherer: reg,
	})
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	orch.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Warnf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// newChatModel 创建带限流和重试的推理服务客户端
func newChatModel(cfg *config.Config) (model.ToolCallingChatModel, error) {
	opts := []agent.CompatOption{agent.WithTimeout(config.GetDuration(cfg.LLM.Timeout, 120*time.Second))}
	if cfg.LLM.Temperature > 0 {
		opts = append(opts, agent.WithDefaultTemperature(cfg.LLM.Temperature))
	}
	base, err := agent.NewOpenAICompatChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.APIURL, opts...)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewLLMWithRateLimit(base, cfg.LLM.Model, cfg.ModelQPMLimits,
		cfg.LLM.QPM, cfg.LLM.MaxRetries, config.GetDuration(cfg.LLM.RetryWait, 2*time.Second)), nil
}

func initLogger(c config.LoggerConfig) {
	appCoreLogger.Init(appCoreLogger.Config{
		Level:        c.Level,
		Format:       c.Format,
		TimeFormat:   c.TimeFormat,
		ReportCaller: c.ReportCaller,
	})

	// Hertz 日志也走 zerolog
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if c.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
