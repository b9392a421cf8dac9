package routes

import (
	"net/http"
	"time"

	"polls-backend/config"
	"polls-backend/handlers"
	"polls-backend/metrics"
	"polls-backend/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由需要的组件
type Dependencies struct {
	Service service.PollService
	DB      *gorm.DB
	Redis   handlers.Pinger
	Limiter handlers.Limiter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	CORS    config.CORSConfig
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", handlers.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = cfg.AllowedOrigins
	c.AllowCredentials = true
	return c
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestID())
	router.Use(handlers.RequestLogger(logger))
	router.Use(handlers.Metrics(deps.Metrics))
	router.Use(cors.New(corsConfig(deps.CORS)))

	polls := handlers.NewPollHandler(deps.Service, logger)
	health := handlers.NewHealthHandler(deps.DB, deps.Redis)

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/api/polls")
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		// 健康检查不限流
		hc := api.Group("/hc")
		{
			hc.GET("/health", health.Health)
			hc.GET("/status", health.Status)
		}

		limited := api.Group("")
		if deps.Limiter != nil {
			limited.Use(handlers.RateLimitMiddleware(deps.Limiter, logger))
		}

		// 投票管理端点
		pollGroup := limited.Group("/polls")
		{
			pollGroup.POST("", polls.CreatePoll)
			pollGroup.GET("", polls.ListPolls)
			pollGroup.GET("/:id", polls.GetPoll)
			pollGroup.PATCH("/:id", polls.UpdatePoll)
			pollGroup.DELETE("/:id", polls.DeletePoll)
			pollGroup.POST("/:id/vote", polls.CastVote)
		}

		// 管理员相关API
		admin := limited.Group("/admin")
		{
			admin.POST("/sweep", polls.Sweep)
			admin.GET("/polls/:id/votes", polls.ListVotes)
			admin.GET("/polls/:id/audit", polls.AuditPoll)
		}
	}

	return router
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
