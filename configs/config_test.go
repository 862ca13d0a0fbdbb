package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"PORT", "ENVIRONMENT", "ANALYSIS_API_BASE_URL", "ANALYSIS_API_TIMEOUT_SECONDS",
	"ANALYSIS_API_RPS", "ANALYSIS_API_BURST", "API_KEY", "ADMIN_USERNAME",
	"ADMIN_PASSWORD", "LOG_LEVEL", "LOG_FILE", "SESSION_TTL_MINUTES",
}

func clearConfigEnv(t *testing.T) {
	for _, v := range configEnvVars {
		t.Setenv(v, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearConfigEnv(t)

	// テスト用の環境変数を設定
	testCases := map[string]string{
		"PORT":                         "9090",
		"ENVIRONMENT":                  "test",
		"ANALYSIS_API_BASE_URL":        "http://ml.internal:5000",
		"ANALYSIS_API_TIMEOUT_SECONDS": "12",
		"ANALYSIS_API_RPS":             "2.5",
		"API_KEY":                      "test-key",
	}
	for key, value := range testCases {
		t.Setenv(key, value)
	}

	cfg := LoadConfig()

	if cfg.Port != "9090" {
		t.Errorf("Expected Port to be '9090', got '%s'", cfg.Port)
	}
	if cfg.Environment != "test" {
		t.Errorf("Expected Environment to be 'test', got '%s'", cfg.Environment)
	}
	if cfg.AnalysisAPIBaseURL != "http://ml.internal:5000" {
		t.Errorf("Expected AnalysisAPIBaseURL to be 'http://ml.internal:5000', got '%s'", cfg.AnalysisAPIBaseURL)
	}
	if cfg.AnalysisAPITimeout() != 12*time.Second {
		t.Errorf("Expected AnalysisAPITimeout to be 12s, got %v", cfg.AnalysisAPITimeout())
	}
	if cfg.AnalysisAPIRPS != 2.5 {
		t.Errorf("Expected AnalysisAPIRPS to be 2.5, got %v", cfg.AnalysisAPIRPS)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("Expected APIKey to be 'test-key', got '%s'", cfg.APIKey)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfig()

	// デフォルト値の検証
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port to be '8080', got '%s'", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Expected default Environment to be 'development', got '%s'", cfg.Environment)
	}
	if cfg.AnalysisAPIBaseURL != "http://localhost:5000" {
		t.Errorf("Expected default AnalysisAPIBaseURL, got '%s'", cfg.AnalysisAPIBaseURL)
	}
	if cfg.SessionTTL() != 30*time.Minute {
		t.Errorf("Expected default SessionTTL to be 30m, got %v", cfg.SessionTTL())
	}
}

func TestLoadConfigInvalidNumberKeepsDefault(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ANALYSIS_API_TIMEOUT_SECONDS", "soon")

	cfg := LoadConfig()

	if cfg.AnalysisAPITimeoutSeconds != 30 {
		t.Errorf("Expected invalid timeout to fall back to 30, got %d", cfg.AnalysisAPITimeoutSeconds)
	}
}

func TestLoadConfigNonPositiveTimeoutUsesDefault(t *testing.T) {
	for _, value := range []string{"0", "-5"} {
		t.Run(value, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("ANALYSIS_API_TIMEOUT_SECONDS", value)

			cfg := LoadConfig()

			if cfg.AnalysisAPITimeout() != 30*time.Second {
				t.Errorf("Expected timeout %s to fall back to 30s, got %v", value, cfg.AnalysisAPITimeout())
			}
		})
	}
}

func TestLoadConfigFileZeroTimeoutUsesDefault(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("analysis_api_timeout_seconds: 0\nsession_ttl_minutes: 0\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}

	if cfg.AnalysisAPITimeout() != 30*time.Second {
		t.Errorf("Expected zero timeout to fall back to 30s, got %v", cfg.AnalysisAPITimeout())
	}
	// TTL 0 は掃除を無効にする設定としてそのまま残す
	if cfg.SessionTTL() != 0 {
		t.Errorf("Expected SessionTTL 0 to be kept, got %v", cfg.SessionTTL())
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("port: \"7000\"\nanalysis_api_base_url: http://from-file:5000\nlog_level: debug\nsession_ttl_minutes: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}

	if cfg.Port != "7000" {
		t.Errorf("Expected Port from file, got '%s'", cfg.Port)
	}
	if cfg.AnalysisAPIBaseURL != "http://from-file:5000" {
		t.Errorf("Expected AnalysisAPIBaseURL from file, got '%s'", cfg.AnalysisAPIBaseURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected env to override LogLevel, got '%s'", cfg.LogLevel)
	}
	if cfg.SessionTTLMinutes != 5 {
		t.Errorf("Expected SessionTTLMinutes 5, got %d", cfg.SessionTTLMinutes)
	}
	if cfg.AnalysisAPITimeoutSeconds != 30 {
		t.Errorf("Expected unset keys to keep defaults, got %d", cfg.AnalysisAPITimeoutSeconds)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}
