package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
)

const (
	taskTypeRender = "web2pdf:render"
	renderQueue    = "render"
)

// AsynqQueue は Redis 上の Asynq キューを使う Queue 実装です。
// 自動リトライは行いません（MaxRetry 0）。
type AsynqQueue struct {
	redisOpt    asynq.RedisConnOpt
	client      *asynq.Client
	taskTimeout time.Duration
	logger      *zap.Logger
}

// NewAsynqQueue は Redis URL から AsynqQueue を作成します。
func NewAsynqQueue(redisURL string, taskTimeout time.Duration, logger *zap.Logger) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &AsynqQueue{
		redisOpt:    opt,
		client:      asynq.NewClient(opt),
		taskTimeout: taskTimeout,
		logger:      logging.OrNop(logger),
	}, nil
}

// Enqueue は Task を Asynq に投入します。
func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	if task.JobID == "" {
		return fmt.Errorf("task.JobID is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(renderQueue), asynq.MaxRetry(0)}
	if q.taskTimeout > 0 {
		opts = append(opts, asynq.Timeout(q.taskTimeout))
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskTypeRender, body), opts...)
	if err != nil {
		return err
	}
	q.logger.Debug("task enqueued", zap.String("job_id", task.JobID), zap.String("asynq_id", info.ID))
	return nil
}

// Consume は Asynq サーバーを起動し、ctx が終わるまで Task を処理します。
func (q *AsynqQueue) Consume(ctx context.Context, concurrency int, handle TaskHandler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	server := asynq.NewServer(q.redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			renderQueue: 1,
		},
		Logger: q.logger.Sugar(),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeRender, func(ctx context.Context, t *asynq.Task) error {
		task, err := decodeTask(t.Payload())
		if err != nil {
			return err
		}
		return handle(context.WithoutCancel(ctx), task)
	})

	if err := server.Start(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	server.Shutdown()
	return ctx.Err()
}

// Close はクライアント接続を閉じます。
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

func decodeTask(payload []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, fmt.Errorf("decode task payload: %v: %w", err, asynq.SkipRetry)
	}
	if task.JobID == "" {
		return Task{}, fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return task, nil
}
