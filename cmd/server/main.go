package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/api"
	"github.com/qs3c/insight_go_server/internal/api/handler"
	"github.com/qs3c/insight_go_server/internal/database"
	"github.com/qs3c/insight_go_server/internal/pkg/cron"
	"github.com/qs3c/insight_go_server/internal/pkg/export"
	"github.com/qs3c/insight_go_server/internal/pkg/llm"
	"github.com/qs3c/insight_go_server/internal/pkg/oauth"
	"github.com/qs3c/insight_go_server/internal/pkg/oss"
	"github.com/qs3c/insight_go_server/internal/pkg/pubsub"
	"github.com/qs3c/insight_go_server/internal/pkg/ws"
	"github.com/qs3c/insight_go_server/internal/repository"
	"github.com/qs3c/insight_go_server/internal/service"
	"github.com/qs3c/insight_go_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	stepRepo := repository.NewTaskStepRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	moduleRepo := repository.NewAnalysisModuleRepository(db)

	// 初始化大模型通道
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	primary, err := llm.NewChatClient(cfg.LLM.Primary, timeout)
	if err != nil {
		log.Fatalf("Failed to init primary llm client: %v", err)
	}
	var fallback llm.Classifier
	if cfg.LLM.Fallback.BaseURL != "" {
		fb, err := llm.NewChatClient(cfg.LLM.Fallback, timeout)
		if err != nil {
			log.Fatalf("Failed to init fallback llm client: %v", err)
		}
		fallback = fb
	}

	// 初始化导出与上传
	exporter := export.NewExcel(&cfg.Export)
	var uploader worker.Uploader
	if cfg.OSS.Endpoint != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Fatalf("Failed to init OSS client: %v", err)
		}
		uploader = ossClient
		log.Println("OSS client initialized")
	} else {
		log.Println("OSS not configured, export URLs disabled")
	}

	// 初始化分析编排
	publisher := pubsub.NewPublisher(rdb)
	registry := worker.NewRegistry()
	orchestrator := worker.NewOrchestrator(
		registry,
		taskRepo,
		stepRepo,
		commentRepo,
		primary,
		fallback,
		exporter,
		uploader,
		publisher,
		cfg,
	)

	// 初始化 WebSocket Hub，订阅进度消息并推给对应用户
	wsHub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			wsHub.SendToUser(msg.UserID, &ws.Message{
				Type: msg.Type,
				Data: msg,
			})
		})
		if err != nil && err != context.Canceled {
			log.Printf("Progress subscriber exited: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Service
	authService := service.NewAuthService(userRepo, cfg)
	taskService := service.NewTaskService(taskRepo, stepRepo, registry)
	analysisService := service.NewAnalysisService(orchestrator, taskRepo, stepRepo, commentRepo, moduleRepo)

	// 初始化 Handler
	stateStore := oauth.NewStateStore(rdb)
	authHandler := handler.NewAuthHandler(authService, stateStore)
	taskHandler := handler.NewTaskHandler(taskService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 启动后台例行任务
	cronService := cron.NewService(stepRepo, registry, &cfg.Export)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		taskHandler,
		analysisHandler,
		websocketHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
