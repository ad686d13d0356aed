// Package api は変換ジョブの HTTP ハンドラーを提供します。
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/web2pdf/internal/jobs"
)

var statusByCode = map[string]int{
	jobs.CodeInvalidInput:   http.StatusBadRequest,
	jobs.CodeJobNotFound:    http.StatusNotFound,
	jobs.CodeFileNotFound:   http.StatusNotFound,
	jobs.CodeNothingToMerge: http.StatusConflict,
	jobs.CodeMergeFailed:    http.StatusInternalServerError,
	jobs.CodeEnqueueFailed:  http.StatusServiceUnavailable,
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *jobs.Error
	switch {
	case errors.As(err, &apiErr):
		status, ok := statusByCode[apiErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
