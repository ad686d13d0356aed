package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/config"
	"github.com/yourusername/web2pdf/internal/jobs"
	"github.com/yourusername/web2pdf/internal/links"
	"github.com/yourusername/web2pdf/internal/pdf"
	"github.com/yourusername/web2pdf/internal/render"
	"github.com/yourusername/web2pdf/internal/storage"
)

// jobRuntime はジョブ処理に必要な部品一式です。
type jobRuntime struct {
	manager  *jobs.Manager
	renderer *render.Wkhtmltopdf
	sweeper  *jobs.Sweeper
	closers  []func() error
}

func (r *jobRuntime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func setupJobs(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*jobRuntime, error) {
	local, err := storage.NewLocal(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	metrics := jobs.NewMetrics(reg)
	rt := &jobRuntime{}

	var (
		store jobs.Store
		queue jobs.Queue
	)
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, rdb.Close)

		asynqQueue, err := jobs.NewAsynqQueue(cfg.QueueRedisURL, 0, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		store = jobs.NewRedisStore(rdb, cfg.Retention())
		queue = asynqQueue
	default:
		memoryQueue := jobs.NewMemoryQueue()
		jobs.RegisterQueueDepth(reg, memoryQueue.Len)
		store = jobs.NewMemoryStore()
		queue = memoryQueue
	}

	rt.renderer = render.NewWkhtmltopdf(render.Options{
		BinaryPath:   cfg.WkhtmltopdfPath,
		Timeout:      cfg.RenderTimeout(),
		FetchTimeout: cfg.FetchTimeout(),
		Preflight:    cfg.RenderPreflight,
	}, logger.Named("render"))

	worker := jobs.NewWorker(jobs.WorkerDeps{
		Store:     store,
		Storage:   local,
		Renderer:  rt.renderer,
		Extractor: links.NewExtractor(&http.Client{Timeout: cfg.FetchTimeout()}, logger.Named("links")),
		Merger:    pdf.NewMerger(logger.Named("merge")),
		Metrics:   metrics,
		Logger:    logger.Named("worker"),
	}, jobs.WorkerOptions{
		MaxSubPages:   cfg.MaxSubPages,
		ProgressEvery: cfg.ProgressEvery,
	})

	rt.manager, err = jobs.NewManager(store, queue, worker, jobs.ManagerOptions{Workers: cfg.WorkerCount})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.manager.Shutdown)

	rt.sweeper, err = jobs.NewSweeper(cfg.SweepSchedule, cfg.Retention(), rt.manager.Sweep, logger.Named("sweeper"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// logRendererProbe は起動時に wkhtmltopdf の有無をログに残します。見つからなくても起動は続けます。
func logRendererProbe(ctx context.Context, renderer *render.Wkhtmltopdf, logger *zap.Logger) {
	probe := renderer.Probe(ctx)
	if probe.Status != "found" {
		logger.Warn("wkhtmltopdf not available, every conversion will fail",
			zap.String("path", probe.Path),
			zap.String("error", probe.Error),
		)
		return
	}
	logger.Info("wkhtmltopdf detected", zap.String("path", probe.Path), zap.String("version", probe.Version))
}
