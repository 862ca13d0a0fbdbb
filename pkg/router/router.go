package router

import (
	"net/http"

	config "product-insight-api/configs"
	"product-insight-api/pkg/handlers"
	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps はルーターが使うサービス群です。
type Deps struct {
	Categories handlers.CategorySource
	Resolver   *services.CategoryResolver
	Sessions   *services.SessionStore
	Monitoring *services.MonitoringService
}

// Setup はGinエンジンを組み立てます。サーバー起動時とサーバーレス環境の両方から使われます。
func Setup(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// ミドルウェアの登録
	r.Use(deps.Monitoring.LoggingMiddleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-API-KEY")
	r.Use(cors.New(corsConfig))
	r.Use(handlers.MaintenanceMiddleware())

	dashboardHandler := handlers.NewDashboardHandler(deps.Categories, deps.Resolver, deps.Sessions)
	adminHandler := handlers.NewAdminHandler(cfg, deps.Sessions, deps.Resolver)
	monitoringHandler := handlers.NewMonitoringHandler(deps.Monitoring)

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg.APIKey))
	{
		v1.GET("/categories", dashboardHandler.GetCategories)

		// ダッシュボードセッションAPI
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", dashboardHandler.CreateSession)
			sessions.GET("/:id", dashboardHandler.GetSession)
			sessions.DELETE("/:id", dashboardHandler.CloseSession)
			sessions.PUT("/:id/category", dashboardHandler.SelectCategory)
			sessions.POST("/:id/product", dashboardHandler.SearchProduct)
			sessions.PUT("/:id/product-query", dashboardHandler.UpdateProductQuery)
			sessions.DELETE("/:id/requests/:kind", dashboardHandler.CancelRequests)
			sessions.GET("/:id/export", dashboardHandler.ExportSession)
		}

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
		}
	}

	return r
}

// AuthMiddleware は X-API-KEY ヘッダーを検証します。キーが未設定の場合は認証を行いません。
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" || apiKey == "default_secret_key" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			logger.Log.WithField("path", c.Request.URL.Path).Warn("❌ [認証] 無効なAPI Key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
