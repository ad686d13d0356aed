package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"WORKER_COUNT", "MAX_SUB_PAGES", "QUEUE_BACKEND", "JOB_RETENTION_HOURS", "GIN_MODE", "RENDER_PREFLIGHT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.MaxSubPages)
	assert.Equal(t, 5, cfg.ProgressEvery)
	assert.Equal(t, QueueBackendMemory, cfg.QueueBackend)
	assert.True(t, cfg.RenderPreflight)
	assert.Equal(t, 24*time.Hour, cfg.Retention())
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GIN_MODE", "")
	t.Setenv("WORKER_COUNT", "3")
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("RENDER_PREFLIGHT", "false")
	t.Setenv("JOB_RETENTION_HOURS", "2")
	t.Setenv("MAX_SUB_PAGES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.False(t, cfg.RenderPreflight)
	assert.Equal(t, 2*time.Hour, cfg.Retention())
	assert.Equal(t, 50, cfg.MaxSubPages, "invalid numbers fall back to the default")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			GinMode:       "debug",
			OutputDir:     "pdfs",
			WorkerCount:   1,
			MaxSubPages:   50,
			ProgressEvery: 5,
			QueueBackend:  QueueBackendMemory,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.WorkerCount = 0 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.QueueBackend = "kafka" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.QueueBackend = QueueBackendRedis }, wantErr: true},
		{name: "release without admin", mutate: func(c *Config) { c.GinMode = "release" }, wantErr: true},
		{name: "release with admin", mutate: func(c *Config) {
			c.GinMode = "release"
			c.AdminUsername = "ops"
			c.AdminPasswordHash = "$2a$10$hash"
			c.SessionSecret = "secret"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
