// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// キューバックエンドの種類
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // zap のログレベル

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 運用者ログイン（クリーンアップ・診断 API 用）
	AdminUsername     string // 運用者ユーザー名
	AdminPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret     string // セッション署名用の秘密鍵

	// ジョブ/キュー設定
	OutputDir         string // ジョブごとのPDF出力ルート
	WorkerCount       int    // 同時に処理するジョブ数
	MaxSubPages       int    // 1ジョブで変換するリンク先ページの上限
	ProgressEvery     int    // lastUpdated を更新する間隔（ページ数）
	QueueBackend      string // memory または redis
	QueueRedisURL     string // Asynq / ジョブストア用Redis接続URL
	JobRetentionHours int    // ジョブと成果物の保持時間
	SweepSchedule     string // 期限切れジョブ削除の cron 式

	// レンダリング設定
	WkhtmltopdfPath      string // wkhtmltopdf 実行ファイルのパス
	RenderTimeoutSeconds int    // 1ページあたりのレンダリング上限
	FetchTimeoutSeconds  int    // リンク抽出・事前確認の HTTP タイムアウト
	RenderPreflight      bool   // レンダリング前に URL へ到達できるか確認する
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		AdminUsername:     getEnv("ADMIN_USERNAME", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SessionSecret:     getEnv("SESSION_SECRET", ""),

		OutputDir:         getEnv("OUTPUT_DIR", "pdfs"),
		WorkerCount:       getEnvAsInt("WORKER_COUNT", 1),
		MaxSubPages:       getEnvAsInt("MAX_SUB_PAGES", 50),
		ProgressEvery:     getEnvAsInt("PROGRESS_EVERY", 5),
		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendMemory)),
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobRetentionHours: getEnvAsInt("JOB_RETENTION_HOURS", 24),
		SweepSchedule:     getEnv("SWEEP_SCHEDULE", "@every 1h"),

		WkhtmltopdfPath:      getEnv("WKHTMLTOPDF_PATH", "/usr/bin/wkhtmltopdf"),
		RenderTimeoutSeconds: getEnvAsInt("RENDER_TIMEOUT_SECONDS", 120),
		FetchTimeoutSeconds:  getEnvAsInt("FETCH_TIMEOUT_SECONDS", 10),
		RenderPreflight:      getEnvAsBool("RENDER_PREFLIGHT", true),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1 (got %d)", c.WorkerCount)
	}
	if c.MaxSubPages < 0 {
		return fmt.Errorf("MAX_SUB_PAGES must not be negative (got %d)", c.MaxSubPages)
	}
	if c.ProgressEvery < 1 {
		return fmt.Errorf("PROGRESS_EVERY must be at least 1 (got %d)", c.ProgressEvery)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	switch c.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q (got %q)", QueueBackendMemory, QueueBackendRedis, c.QueueBackend)
	}

	// 本番では運用者 API を必ず保護する
	if c.GinMode == "release" {
		if c.AdminUsername == "" {
			return fmt.Errorf("ADMIN_USERNAME is required in release mode")
		}
		if c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
}

// Retention はジョブの保持期間を返します。
func (c *Config) Retention() time.Duration {
	if c.JobRetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JobRetentionHours) * time.Hour
}

// RenderTimeout は1ページあたりのレンダリング上限を返します。
func (c *Config) RenderTimeout() time.Duration {
	return secondsOr(c.RenderTimeoutSeconds, 120)
}

// FetchTimeout は HTTP 取得のタイムアウトを返します。
func (c *Config) FetchTimeout() time.Duration {
	return secondsOr(c.FetchTimeoutSeconds, 10)
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
