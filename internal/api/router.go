package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/api/handler"
	"github.com/qs3c/insight_go_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	taskHandler      *handler.TaskHandler
	analysisHandler  *handler.AnalysisHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	taskHandler *handler.TaskHandler,
	analysisHandler *handler.AnalysisHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		taskHandler:      taskHandler,
		analysisHandler:  analysisHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket，进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.GET("/github", r.authHandler.GithubLogin)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 任务
			tasks := authenticated.Group("/tasks")
			{
				tasks.POST("", r.taskHandler.Create)
				tasks.GET("", r.taskHandler.List)
				tasks.DELETE("/:id", r.taskHandler.Delete)
			}

			// 分析
			authenticated.POST("/analysis", r.analysisHandler.Start)
			authenticated.POST("/stop_analysis", r.analysisHandler.Stop)
			authenticated.GET("/progress", r.analysisHandler.Progress)
			authenticated.GET("/comments", r.analysisHandler.Comments)

			// 分析模板
			modules := authenticated.Group("/analysis_modules")
			{
				modules.POST("", r.analysisHandler.CreateModule)
				modules.GET("", r.analysisHandler.ListModules)
				modules.PUT("/:id", r.analysisHandler.UpdateModule)
				modules.DELETE("/:id", r.analysisHandler.DeleteModule)
			}
		}
	}

	return engine
}
