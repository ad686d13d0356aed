package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/auth"
	"github.com/yourusername/web2pdf/internal/config"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		OutputDir:         filepath.Join(t.TempDir(), "pdfs"),
		WorkerCount:       1,
		MaxSubPages:       50,
		ProgressEvery:     5,
		QueueBackend:      config.QueueBackendMemory,
		JobRetentionHours: 24,
		SweepSchedule:     "@every 1h",
		WkhtmltopdfPath:   filepath.Join(t.TempDir(), "missing-wkhtmltopdf"),
	}
	reg := prometheus.NewRegistry()
	rt, err := setupJobs(cfg, zap.NewNop(), reg)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	router := gin.New()
	router.Use(sessions.Sessions(auth.SessionCookieName, cookie.NewStore([]byte("test-secret"))))
	setupRoutes(router, cfg, rt, reg, zap.NewNop())
	return router
}

func TestRoutesWiring(t *testing.T) {
	router := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/jobs", `{"url":"https://site.example/","maxDepth":0}`, http.StatusAccepted},
		{http.MethodPost, "/api/jobs", `{"url":"ftp://site.example/"}`, http.StatusBadRequest},
		{http.MethodGet, "/api/jobs/unknown", "", http.StatusNotFound},
		{http.MethodPost, "/api/jobs/unknown/merge", "", http.StatusNotFound},
		{http.MethodPost, "/api/admin/cleanup", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/admin/diagnostics", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestMetricsExposeJobCounters(t *testing.T) {
	router := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"url":"https://site.example/"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "web2pdf_jobs_submitted_total 1")
	assert.Contains(t, w.Body.String(), "web2pdf_queue_depth 1")
}
