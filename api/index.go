package handler

import (
	"net/http"
	"sync"
	"time"

	config "product-insight-api/configs"
	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/router"
	"product-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
)

var (
	app      *gin.Engine
	sessions *services.SessionStore
	once     sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() *gin.Engine {
	once.Do(func() {
		// .envファイルはVercelの環境変数設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()
		if err := logger.InitLogger(cfg.LogLevel, ""); err != nil {
			logger.Log.Warnf("failed to initialize logger: %v", err)
		}
		logger.Log.Info("🟢 [setupApp] Initializing Gin application")

		client := services.NewAnalysisClient(cfg.AnalysisAPIBaseURL, cfg.AnalysisAPITimeout(), cfg.AnalysisAPIRPS, cfg.AnalysisAPIBurst)
		resolver := services.NewCategoryResolver()
		monitoringService := services.NewMonitoringService()
		sessions = services.NewSessionStore(client, resolver, monitoringService, cfg.SessionTTL())

		app = router.Setup(cfg, router.Deps{
			Categories: client,
			Resolver:   resolver,
			Sessions:   sessions,
			Monitoring: monitoringService,
		})
	})
	return app
}

// Handler はVercelからのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	logger.Log.Debugf("🔵 [Handler] Request received: %s %s", r.Method, r.URL.Path)

	// Ginアプリケーションをセットアップ（初回のみ実行される）
	engine := setupApp()

	// 関数インスタンスではバックグラウンドの削除処理を動かせないため、リクエストごとに期限切れを掃除する
	sessions.Sweep(time.Now())

	engine.ServeHTTP(w, r)
}
