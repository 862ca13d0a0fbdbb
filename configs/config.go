package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultAnalysisAPITimeoutSeconds = 30

// Config holds the application configuration
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	AnalysisAPIBaseURL        string  `yaml:"analysis_api_base_url"`
	AnalysisAPITimeoutSeconds int     `yaml:"analysis_api_timeout_seconds"`
	AnalysisAPIRPS            float64 `yaml:"analysis_api_rps"`
	AnalysisAPIBurst          int     `yaml:"analysis_api_burst"`

	APIKey        string `yaml:"api_key"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfigFile はYAMLファイルを読み込み、その上に環境変数を重ねます。
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// AnalysisAPITimeout 分析APIのタイムアウトを返す
func (c *Config) AnalysisAPITimeout() time.Duration {
	return time.Duration(c.AnalysisAPITimeoutSeconds) * time.Second
}

// SessionTTL セッションの有効期限を返す
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func defaultConfig() *Config {
	return &Config{
		Port:                      "8080",
		Environment:               "development",
		AnalysisAPIBaseURL:        "http://localhost:5000",
		AnalysisAPITimeoutSeconds: defaultAnalysisAPITimeoutSeconds,
		AnalysisAPIRPS:            5,
		AnalysisAPIBurst:          5,
		LogLevel:                  "info",
		SessionTTLMinutes:         30,
	}
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.AnalysisAPIBaseURL = getEnv("ANALYSIS_API_BASE_URL", c.AnalysisAPIBaseURL)
	c.AnalysisAPITimeoutSeconds = getEnvInt("ANALYSIS_API_TIMEOUT_SECONDS", c.AnalysisAPITimeoutSeconds)
	c.AnalysisAPIRPS = getEnvFloat("ANALYSIS_API_RPS", c.AnalysisAPIRPS)
	c.AnalysisAPIBurst = getEnvInt("ANALYSIS_API_BURST", c.AnalysisAPIBurst)
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.AdminUsername = getEnv("ADMIN_USERNAME", c.AdminUsername)
	c.AdminPassword = getEnv("ADMIN_PASSWORD", c.AdminPassword)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.SessionTTLMinutes = getEnvInt("SESSION_TTL_MINUTES", c.SessionTTLMinutes)

	// 0 以下のタイムアウトは「待たない」ではなくデフォルト扱い
	if c.AnalysisAPITimeoutSeconds <= 0 {
		c.AnalysisAPITimeoutSeconds = defaultAnalysisAPITimeoutSeconds
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
