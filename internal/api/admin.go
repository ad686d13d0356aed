package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/render"
)

// RendererProber はレンダラーの利用可否を確認します。
type RendererProber interface {
	Probe(ctx context.Context) *render.ProbeResult
}

// CleanupHandler は POST /api/admin/cleanup のハンドラーを返します。
// 保持期間を過ぎたジョブを即時に削除します。
func CleanupHandler(svc JobService, retention time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := svc.Sweep(c.Request.Context(), retention)
		if err != nil {
			if logger != nil {
				logger.Error("manual cleanup failed", zap.Int("removed", removed), zap.Error(err))
			}
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

// DiagnosticsInfo は診断 API に載せる実行時情報です。
type DiagnosticsInfo struct {
	QueueBackend string `json:"queueBackend"`
	Workers      int    `json:"workers"`
	OutputDir    string `json:"outputDir"`
	MaxSubPages  int    `json:"maxSubPages"`
}

// DiagnosticsHandler は GET /api/admin/diagnostics のハンドラーを返します。
func DiagnosticsHandler(prober RendererProber, info DiagnosticsInfo) gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		probe := prober.Probe(c.Request.Context())
		status := http.StatusOK
		if probe.Status != "found" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"renderer":   probe,
			"config":     info,
			"goVersion":  runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(started).Round(time.Second).String(),
		})
	}
}
