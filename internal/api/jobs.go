package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/jobs"
)

// defaultMaxDepth はフォームで maxDepth が省略された場合の深さです。
const defaultMaxDepth = 1

// JobService はハンドラーが使うジョブ操作です。*jobs.Manager が実装します。
type JobService interface {
	Submit(ctx context.Context, url string, maxDepth int) (*jobs.Record, error)
	Status(ctx context.Context, jobID string) (*jobs.Record, error)
	FilePath(ctx context.Context, jobID, name string) (string, error)
	Merge(ctx context.Context, jobID string) (*jobs.Record, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

type submitRequest struct {
	URL      string `json:"url" form:"url"`
	MaxDepth *int   `json:"maxDepth" form:"maxDepth"`
}

// SubmitJobHandler は POST /api/jobs のハンドラーを返します。
// JSON とフォームのどちらでも受け付け、処理の完了を待たずに 202 を返します。
func SubmitJobHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    jobs.CodeInvalidInput,
				"message": "url と maxDepth を正しく指定してください。",
			})
			return
		}
		depth := defaultMaxDepth
		if req.MaxDepth != nil {
			depth = *req.MaxDepth
		}

		record, err := svc.Submit(c.Request.Context(), req.URL, depth)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Location", statusPath(record.JobID))
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":     record.JobID,
			"status":    record.Status,
			"statusUrl": statusPath(record.JobID),
		})
	}
}

// JobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
func JobStatusHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		record, err := svc.Status(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, record)
	}
}

// JobFileHandler は GET /api/jobs/:id/files/:name のハンドラーを返します。
// ジョブのレコードが参照しているPDFだけをダウンロードできます。
func JobFileHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		name := c.Param("name")
		path, err := svc.FilePath(c.Request.Context(), jobID, name)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, url.PathEscape(name)))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", jobID)
		c.File(path)
	}
}

// MergeJobHandler は POST /api/jobs/:id/merge のハンドラーを返します。
func MergeJobHandler(svc JobService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		record, err := svc.Merge(c.Request.Context(), jobID)
		if err != nil {
			if logger != nil {
				logger.Warn("merge request failed", zap.String("job_id", jobID), zap.Error(err))
			}
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"jobId":       record.JobID,
			"mergedPdf":   record.MergedPDF,
			"mergedPages": record.MergedPages,
			"downloadUrl": statusPath(record.JobID) + "/files/" + url.PathEscape(record.MergedPDF),
		})
	}
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    jobs.CodeInvalidInput,
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return jobID, true
}

func statusPath(jobID string) string {
	return "/api/jobs/" + url.PathEscape(jobID)
}
