package main

import (
	"context"
	"os"
	"time"

	config "product-insight-api/configs"
	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/router"
	"product-insight-api/pkg/services"

	"github.com/joho/godotenv"
)

const sessionSweepInterval = time.Minute

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 設定の読み込み（CONFIG_FILE が指定されていればYAMLを優先）
	cfg, err := loadConfig()
	if err != nil {
		logger.Log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		logger.Log.Fatalf("Failed to initialize logger: %v", err)
	}
	if envErr != nil {
		logger.Log.Warnf("Warning: .env file not found or could not be loaded: %v", envErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := buildDeps(ctx, cfg)
	r := router.Setup(cfg, deps)

	logger.Log.Infof("Starting Product Insight API server on :%s (analysis backend: %s)", cfg.Port, cfg.AnalysisAPIBaseURL)
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig(), nil
}

// buildDeps はサービスを初期化し、セッションの期限切れ削除を開始します。
func buildDeps(ctx context.Context, cfg *config.Config) router.Deps {
	client := services.NewAnalysisClient(cfg.AnalysisAPIBaseURL, cfg.AnalysisAPITimeout(), cfg.AnalysisAPIRPS, cfg.AnalysisAPIBurst)
	resolver := services.NewCategoryResolver()
	monitoringService := services.NewMonitoringService()
	sessions := services.NewSessionStore(client, resolver, monitoringService, cfg.SessionTTL())

	// 起動時にカテゴリ一覧を取得しておく。失敗しても最初のリクエストで再取得する
	warmCtx, cancel := context.WithTimeout(ctx, cfg.AnalysisAPITimeout())
	defer cancel()
	if list, err := client.GetCategories(warmCtx); err != nil {
		logger.Log.Warnf("⚠️ [起動] failed to load categories: %v", err)
	} else {
		resolver.Refresh(list.Categories, list.Datasets)
		logger.Log.WithField("count", len(list.Categories)).Info("📂 [起動] categories loaded")
	}

	go sessions.RunSweeper(ctx, sessionSweepInterval)

	return router.Deps{
		Categories: client,
		Resolver:   resolver,
		Sessions:   sessions,
		Monitoring: monitoringService,
	}
}
