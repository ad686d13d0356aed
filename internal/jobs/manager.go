package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/storage"
)

// API 利用者に返すエラーコード
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeJobNotFound    = "JOB_NOT_FOUND"
	CodeFileNotFound   = "FILE_NOT_FOUND"
	CodeNothingToMerge = "NOTHING_TO_MERGE"
	CodeMergeFailed    = "MERGE_FAILED"
	CodeEnqueueFailed  = "ENQUEUE_FAILED"
)

// MaxDepthLimit は受け付ける maxDepth の上限です。
const MaxDepthLimit = 1

// ManagerOptions は Manager の動作設定です。
type ManagerOptions struct {
	Workers int
}

// Manager はジョブの投入・参照・結合・掃除をまとめる境界です。
// HTTP 層はこの型だけを通してジョブを扱います。
type Manager struct {
	store   Store
	queue   Queue
	storage *storage.Local
	worker  *Worker
	metrics *Metrics
	logger  *zap.Logger
	opts    ManagerOptions
	now     func() time.Time
}

// NewManager は Manager を初期化します。
func NewManager(store Store, queue Queue, worker *Worker, opts ManagerOptions) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if queue == nil {
		return nil, errors.New("queue is nil")
	}
	if worker == nil {
		return nil, errors.New("worker is nil")
	}
	if worker.deps.Storage == nil {
		return nil, errors.New("worker storage is nil")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Manager{
		store:   store,
		queue:   queue,
		storage: worker.deps.Storage,
		worker:  worker,
		metrics: worker.deps.Metrics,
		logger:  worker.log,
		opts:    opts,
		now:     worker.now,
	}, nil
}

// Submit は入力を検証してジョブを登録し、キューに投入します。
// レンダリングの完了は待ちません。
func (m *Manager) Submit(ctx context.Context, rawURL string, maxDepth int) (*Record, error) {
	target, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxDepth < 0 || maxDepth > MaxDepthLimit {
		return nil, newError(CodeInvalidInput, "maxDepth は 0 または 1 を指定してください。", nil)
	}

	now := m.now()
	record := &Record{
		JobID:       uuid.NewString(),
		URL:         target,
		MaxDepth:    maxDepth,
		Status:      StatusQueued,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	if err := m.queue.Enqueue(ctx, record.Task()); err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), record.JobID); delErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, delErr)
		}
		m.logger.Error("failed to enqueue job", zap.String("job_id", record.JobID), zap.Error(err))
		return nil, newError(CodeEnqueueFailed, "ジョブの登録に失敗しました。", err)
	}

	m.metrics.submitted()
	m.logger.Info("job submitted",
		zap.String("job_id", record.JobID),
		zap.String("url", record.URL),
		zap.Int("max_depth", maxDepth),
	)
	return record, nil
}

// Status はジョブの現在状態のスナップショットを返します。
func (m *Manager) Status(ctx context.Context, jobID string) (*Record, error) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, newError(CodeJobNotFound, "指定されたジョブは存在しません。", err)
		}
		return nil, err
	}
	return record, nil
}

// JobDir はジョブの出力フォルダのパスを返します。
func (m *Manager) JobDir(jobID string) string {
	return m.storage.JobDir(jobID)
}

// FilePath はジョブが参照しているファイルの絶対パスを返します。
// レコードに載っていない名前やディスク上にないファイルは FILE_NOT_FOUND です。
func (m *Manager) FilePath(ctx context.Context, jobID, name string) (string, error) {
	record, err := m.Status(ctx, jobID)
	if err != nil {
		return "", err
	}
	notFound := newError(CodeFileNotFound, "指定されたファイルは存在しません。", nil)
	if !references(record, name) {
		return "", notFound
	}
	path, err := m.storage.Resolve(jobID, name)
	if err != nil || !storage.NonEmptyFile(path) {
		return "", notFound
	}
	return path, nil
}

// Merge はディスク上に残っている成功ページを結合し直します。状態は問いません。
// 繰り返し呼んでも同じ結合PDFを上書きするだけです。
func (m *Manager) Merge(ctx context.Context, jobID string) (*Record, error) {
	record, err := m.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}

	dir := m.storage.JobDir(jobID)
	inputs := make([]string, 0, 1+len(record.RenderedPages))
	for _, name := range mergeCandidates(record) {
		path, err := m.storage.Resolve(jobID, name)
		if err != nil || !storage.NonEmptyFile(path) {
			continue
		}
		inputs = append(inputs, path)
	}
	if len(inputs) == 0 {
		return nil, newError(CodeNothingToMerge, "結合できるPDFがありません。", nil)
	}

	updated, err := m.worker.combine(ctx, jobID, dir, inputs, "manual")
	if err != nil {
		if isMergeError(err) {
			m.logger.Error("manual merge failed", zap.String("job_id", jobID), zap.Error(err))
			return nil, newError(CodeMergeFailed, "PDFの結合に失敗しました。", err)
		}
		return nil, err
	}
	return updated, nil
}

// Sweep は maxAge より前に作成されたジョブを出力フォルダごと削除し、件数を返します。
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := m.now().Add(-maxAge)
	ids, err := m.store.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}

	removed := 0
	var errs []error
	for _, id := range ids {
		if err := m.storage.Remove(id); err != nil {
			errs = append(errs, fmt.Errorf("remove folder %s: %w", id, err))
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete record %s: %w", id, err))
			continue
		}
		removed++
	}
	m.metrics.swept(removed)
	if removed > 0 {
		m.logger.Info("swept expired jobs", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, errors.Join(errs...)
}

// Run はワーカーを起動し、ctx が終わるまでキューを消費します。
// 処理中のジョブは ctx 終了後も最後まで実行されてから戻ります。
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("starting workers", zap.Int("workers", m.opts.Workers))
	err := m.queue.Consume(ctx, m.opts.Workers, m.worker.Process)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown はキューを閉じます。Run の終了は呼び出し側で待ってください。
func (m *Manager) Shutdown() error {
	return m.queue.Close()
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	invalid := newError(CodeInvalidInput, "http または https の URL を指定してください。", nil)
	if raw == "" {
		return "", invalid
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", invalid
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalid
	}
	return u.String(), nil
}

// mergeCandidates は結合対象のファイル名をページ順に返します。
func mergeCandidates(r *Record) []string {
	names := make([]string, 0, 1+len(r.RenderedPages))
	if r.MainPDF != "" {
		names = append(names, r.MainPDF)
	}
	for _, p := range r.RenderedPages {
		names = append(names, p.Filename)
	}
	return names
}

func references(r *Record, name string) bool {
	if name == "" {
		return false
	}
	if name == r.MergedPDF {
		return true
	}
	for _, candidate := range mergeCandidates(r) {
		if candidate == name {
			return true
		}
	}
	return false
}
