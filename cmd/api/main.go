// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/api"
	"github.com/yourusername/web2pdf/internal/auth"
	"github.com/yourusername/web2pdf/internal/config"
	"github.com/yourusername/web2pdf/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.GinMode != gin.ReleaseMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	gin.SetMode(cfg.GinMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := setupJobs(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("setup jobs: %w", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logRendererProbe(ctx, rt.renderer, logger)

	// ワーカーはシグナルとは別のコンテキストで止める（処理中のジョブを待つため）
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workersDone := make(chan error, 1)
	go func() { workersDone <- rt.manager.Run(workerCtx) }()

	rt.sweeper.Start()

	router := gin.New()
	router.Use(api.LoggerMiddleware(logger.Named("http")), api.RecoveryMiddleware(logger))

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(sessionSecret(cfg, logger)))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// 運用者画面がレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Location"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, rt, reg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.GinMode),
			zap.String("queue_backend", cfg.QueueBackend),
			zap.Int("workers", cfg.WorkerCount),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			stopWorkers()
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	rt.sweeper.Stop(shutdownCtx)

	stopWorkers()
	select {
	case err := <-workersDone:
		if err != nil {
			logger.Warn("workers stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for in-flight jobs")
	}
	logger.Info("server stopped")
	return nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web2pdf-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, rt *jobRuntime, reg *prometheus.Registry, logger *zap.Logger) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	authManager := auth.NewManager(auth.Credentials{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
	}, logger.Named("auth"))
	if !authManager.Enabled() {
		logger.Warn("operator login disabled, admin endpoints will reject all requests")
	}

	apiGroup := router.Group("/api")
	{
		// ジョブ API は匿名で利用できる
		jobRoutes := apiGroup.Group("/jobs")
		{
			jobRoutes.POST("", api.SubmitJobHandler(rt.manager))
			jobRoutes.GET("/:id", api.JobStatusHandler(rt.manager))
			jobRoutes.GET("/:id/files/:name", api.JobFileHandler(rt.manager))
			jobRoutes.POST("/:id/merge", api.MergeJobHandler(rt.manager, logger))
		}

		authRoutes := apiGroup.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		admin := apiGroup.Group("/admin")
		admin.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			admin.POST("/cleanup", api.CleanupHandler(rt.manager, cfg.Retention(), logger))
			admin.GET("/diagnostics", api.DiagnosticsHandler(rt.renderer, api.DiagnosticsInfo{
				QueueBackend: cfg.QueueBackend,
				Workers:      cfg.WorkerCount,
				OutputDir:    cfg.OutputDir,
				MaxSubPages:  cfg.MaxSubPages,
			}))
		}
	}
}

// sessionSecret は署名鍵を返します。開発時に未設定なら起動ごとの乱数を使います。
func sessionSecret(cfg *config.Config, logger *zap.Logger) string {
	if cfg.SessionSecret != "" {
		return cfg.SessionSecret
	}
	secret, err := randomHex(32)
	if err != nil {
		logger.Fatal("failed to generate session secret", zap.Error(err))
	}
	logger.Warn("SESSION_SECRET is not set, using an ephemeral secret")
	return secret
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
