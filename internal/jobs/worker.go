// Package jobs は非同期ジョブ（URL→PDF変換と結合）の管理機能を提供します。
//
// ジョブの状態遷移は queued → processing → completed / failed の一方向のみです。
// ページ単位の失敗（レンダリング失敗・リンク抽出失敗・結合失敗）はジョブを失敗させず、
// ワーカー自身の処理中に起きた想定外のエラーだけがジョブを failed にします。
//
// ワーカーを複数起動した場合、1ジョブ内の処理順序は保たれますが、
// ジョブ間の完了順序はキュー投入順（FIFO）になりません。
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
	"github.com/yourusername/web2pdf/internal/storage"
)

// Renderer は1つのURLをPDFファイルに変換します。nil 以外のエラーは変換失敗です。
type Renderer interface {
	Render(ctx context.Context, url, outputPath string) error
}

// LinkExtractor はページから変換対象のリンクを抽出します。失敗時は空を返します。
type LinkExtractor interface {
	Extract(ctx context.Context, pageURL string) []string
}

// Merger はPDFを入力順に結合します。
type Merger interface {
	Merge(ctx context.Context, inputs []string, outputPath string) error
}

// PageCounter を実装した Merger なら結合後のページ数を記録します。
type PageCounter interface {
	PageCount(path string) (int, error)
}

// WorkerDeps は Worker の依存関係です。
type WorkerDeps struct {
	Store     Store
	Storage   *storage.Local
	Renderer  Renderer
	Extractor LinkExtractor
	Merger    Merger
	Metrics   *Metrics
	Logger    *zap.Logger
}

// WorkerOptions は Worker の動作設定です。
type WorkerOptions struct {
	MaxSubPages   int // リンク先ページの処理上限
	ProgressEvery int // lastUpdated を更新する間隔
}

// Worker は1件のジョブを最後まで処理します。
type Worker struct {
	deps WorkerDeps
	opts WorkerOptions
	log  *zap.Logger
	now  func() time.Time
}

// NewWorker は Worker を作成します。
func NewWorker(deps WorkerDeps, opts WorkerOptions) *Worker {
	if opts.MaxSubPages < 0 {
		opts.MaxSubPages = 0
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 5
	}
	return &Worker{
		deps: deps,
		opts: opts,
		log:  logging.OrNop(deps.Logger),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Process は Task に対応するジョブを processing にしてから終端状態まで進めます。
// ジョブが queued でなければ何もせずエラーを返します。
func (w *Worker) Process(ctx context.Context, task Task) (err error) {
	log := w.log.With(zap.String("job_id", task.JobID), zap.String("url", task.URL))

	var transitionErr error
	_, err = w.deps.Store.Mutate(ctx, task.JobID, func(r *Record) {
		transitionErr = r.Transition(StatusProcessing, w.now())
	})
	if err != nil {
		log.Warn("job record unavailable, dropping task", zap.Error(err))
		return err
	}
	if transitionErr != nil {
		log.Warn("job is not queued, skipping", zap.Error(transitionErr))
		return transitionErr
	}

	log.Info("processing job", zap.Int("max_depth", task.MaxDepth))
	started := time.Now()
	w.deps.Metrics.started()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic: %v", r)
			log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		status := w.finish(ctx, task.JobID, err, log)
		w.deps.Metrics.finished(status, time.Since(started).Seconds())
	}()

	return w.run(ctx, task, log)
}

func (w *Worker) run(ctx context.Context, task Task, log *zap.Logger) error {
	dir, err := w.deps.Storage.Ensure(task.JobID)
	if err != nil {
		return fmt.Errorf("create job folder: %w", err)
	}
	names := newFilenameAllocator(dir)
	successful := make([]string, 0, 1)

	rootName := names.Reserve(BaseNameFromURL(task.URL))
	rootPath := filepath.Join(dir, rootName)
	log.Info("converting main url to pdf")
	rootErr := w.render(ctx, task.URL, rootPath)
	w.deps.Metrics.page(rootErr == nil)

	if _, err := w.deps.Store.Mutate(ctx, task.JobID, func(r *Record) {
		if rootErr == nil {
			r.MainPDF = rootName
			r.MainError = ""
		} else {
			r.MainPDF = ""
			r.MainError = fmt.Sprintf("Failed to convert %s to PDF: %v", task.URL, rootErr)
		}
		r.LastUpdated = w.now()
	}); err != nil {
		return fmt.Errorf("record main pdf: %w", err)
	}
	if rootErr == nil {
		successful = append(successful, rootPath)
	} else {
		log.Warn("main url failed, continuing", zap.Error(rootErr))
	}

	if task.MaxDepth > 0 {
		paths, err := w.processLinks(ctx, task, dir, names, log)
		if err != nil {
			return err
		}
		successful = append(successful, paths...)
	}

	if len(successful) == 0 {
		log.Warn("no pdfs to merge, skipping combined pdf")
		return nil
	}
	if _, err := w.combine(ctx, task.JobID, dir, successful, "worker"); err != nil {
		if isMergeError(err) {
			log.Error("failed to create combined pdf", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// processLinks はリンク先ページを順番に変換し、成功したファイルのパスを返します。
func (w *Worker) processLinks(ctx context.Context, task Task, dir string, names *filenameAllocator, log *zap.Logger) ([]string, error) {
	links := w.deps.Extractor.Extract(ctx, task.URL)
	limit := min(len(links), w.opts.MaxSubPages)
	log.Info("found links to process", zap.Int("found", len(links)), zap.Int("limit", limit))

	if _, err := w.deps.Store.Mutate(ctx, task.JobID, func(r *Record) {
		r.Progress = &Progress{
			TotalURLs: len(links),
			Limit:     w.opts.MaxSubPages,
			Truncated: len(links) > limit,
		}
		r.RenderedPages = []RenderedPage{}
		r.FailedPages = []FailedPage{}
		r.LastUpdated = w.now()
	}); err != nil {
		return nil, fmt.Errorf("initialize progress: %w", err)
	}

	paths := make([]string, 0, limit)
	for i, link := range links[:limit] {
		name := names.Reserve(BaseNameFromURL(link))
		path := filepath.Join(dir, name)

		log.Debug("processing sub-page", zap.Int("index", i+1), zap.Int("of", limit), zap.String("sub_url", link))
		renderErr := w.render(ctx, link, path)
		w.deps.Metrics.page(renderErr == nil)
		if renderErr != nil {
			_ = os.Remove(path)
		}

		touch := i%w.opts.ProgressEvery == 0
		if _, err := w.deps.Store.Mutate(ctx, task.JobID, func(r *Record) {
			r.Progress.ProcessedURLs++
			if renderErr == nil {
				r.Progress.SuccessfulURLs++
				r.RenderedPages = append(r.RenderedPages, RenderedPage{URL: link, Filename: name})
			} else {
				r.Progress.FailedURLs++
				r.FailedPages = append(r.FailedPages, FailedPage{URL: link, Error: renderErr.Error()})
			}
			if touch {
				r.LastUpdated = w.now()
			}
		}); err != nil {
			return nil, fmt.Errorf("record sub-page result: %w", err)
		}

		if renderErr == nil {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// combine は inputs を combined_<jobID>.pdf に結合し、結果をレコードに書き込みます。
// 結合自体の失敗は mergeError で包んで返します。
func (w *Worker) combine(ctx context.Context, jobID, dir string, inputs []string, trigger string) (*Record, error) {
	name := MergedFilename(jobID)
	output := filepath.Join(dir, name)

	err := safely(func() error { return w.deps.Merger.Merge(ctx, inputs, output) })
	w.deps.Metrics.merge(trigger, err == nil)
	if err != nil {
		return nil, &mergeError{err: err}
	}

	pages := 0
	if counter, ok := w.deps.Merger.(PageCounter); ok {
		if n, err := counter.PageCount(output); err == nil {
			pages = n
		} else {
			w.log.Warn("failed to count merged pages", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	record, err := w.deps.Store.Mutate(ctx, jobID, func(r *Record) {
		r.MergedPDF = name
		r.MergedPages = pages
		r.LastUpdated = w.now()
	})
	if err != nil {
		return nil, fmt.Errorf("record merged pdf: %w", err)
	}
	w.log.Info("created combined pdf", zap.String("job_id", jobID), zap.Int("inputs", len(inputs)), zap.Int("pages", pages))
	return record, nil
}

// finish は終端状態へ遷移させ、その状態を返します。
func (w *Worker) finish(ctx context.Context, jobID string, runErr error, log *zap.Logger) Status {
	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
	}

	var transitionErr error
	_, err := w.deps.Store.Mutate(ctx, jobID, func(r *Record) {
		transitionErr = r.Transition(status, w.now())
		if transitionErr == nil && runErr != nil {
			r.Error = runErr.Error()
		}
	})
	switch {
	case err != nil:
		log.Error("failed to record terminal status", zap.String("status", string(status)), zap.Error(err))
	case transitionErr != nil:
		log.Error("terminal transition rejected", zap.Error(transitionErr))
	case runErr != nil:
		log.Error("job failed", zap.Error(runErr))
	default:
		log.Info("job completed")
	}
	return status
}

func (w *Worker) render(ctx context.Context, url, path string) error {
	return safely(func() error { return w.deps.Renderer.Render(ctx, url, path) })
}

// safely は fn 内の panic をエラーに変換します。
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

type mergeError struct {
	err error
}

func (e *mergeError) Error() string { return "merge failed: " + e.err.Error() }
func (e *mergeError) Unwrap() error { return e.err }

func isMergeError(err error) bool {
	_, ok := err.(*mergeError)
	return ok
}
