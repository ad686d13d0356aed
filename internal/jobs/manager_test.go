package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingQueue struct {
	*MemoryQueue
}

func (q failingQueue) Enqueue(ctx context.Context, task Task) error {
	return errors.New("queue unavailable")
}

func newTestManager(t *testing.T, queue Queue) (*Manager, *workerFixture) {
	t.Helper()
	f := newWorkerFixture(t, WorkerOptions{MaxSubPages: 50})
	if queue == nil {
		queue = NewMemoryQueue()
	}
	m, err := NewManager(f.store, queue, f.worker, ManagerOptions{Workers: 1})
	require.NoError(t, err)
	return m, f
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr), "expected *Error, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

func TestManagerSubmitValidates(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		url   string
		depth int
	}{
		{"empty url", "", 0},
		{"relative url", "/docs", 0},
		{"ftp scheme", "ftp://site.example/", 0},
		{"missing host", "https://", 0},
		{"negative depth", "https://site.example/", -1},
		{"depth too large", "https://site.example/", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(ctx, tt.url, tt.depth)
			requireCode(t, err, CodeInvalidInput)
		})
	}
}

func TestManagerSubmitAndStatus(t *testing.T) {
	queue := NewMemoryQueue()
	m, _ := newTestManager(t, queue)
	ctx := context.Background()

	rec, err := m.Submit(ctx, "https://site.example/", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, 1, queue.Len())

	got, err := m.Status(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "https://site.example/", got.URL)
	assert.Equal(t, filepath.Join(m.storage.Root, rec.JobID), m.JobDir(rec.JobID))

	_, err = m.Status(ctx, "unknown")
	requireCode(t, err, CodeJobNotFound)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestManagerSubmitRemovesRecordWhenEnqueueFails(t *testing.T) {
	m, f := newTestManager(t, failingQueue{NewMemoryQueue()})
	ctx := context.Background()

	_, err := m.Submit(ctx, "https://site.example/", 0)
	requireCode(t, err, CodeEnqueueFailed)

	ids, err := f.store.ListCreatedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManagerRunProcessesQueuedJobs(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	rec, err := m.Submit(ctx, "https://site.example/", 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := m.Status(ctx, rec.JobID)
		return err == nil && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Shutdown())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	got, err := m.Status(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "combined_"+rec.JobID+".pdf", got.MergedPDF)
}

func TestManagerFilePath(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()
	task := f.submit(t, "job-1", "https://site.example/", 0)
	require.NoError(t, f.worker.Process(ctx, task))

	path, err := m.FilePath(ctx, "job-1", "site.example.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.JobDir("job-1"), "site.example.pdf"), path)

	_, err = m.FilePath(ctx, "job-1", "combined_job-1.pdf")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.JobDir("job-1"), "stray.pdf"), []byte("%PDF"), 0o640))
	_, err = m.FilePath(ctx, "job-1", "stray.pdf")
	requireCode(t, err, CodeFileNotFound)

	_, err = m.FilePath(ctx, "job-1", "../job-1/site.example.pdf")
	requireCode(t, err, CodeFileNotFound)

	_, err = m.FilePath(ctx, "nope", "site.example.pdf")
	requireCode(t, err, CodeJobNotFound)
}

func TestManagerMergeIsRepeatable(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()
	f.extractor.links = []string{"https://site.example/a", "https://site.example/b"}
	task := f.submit(t, "job-1", "https://site.example/", 1)
	require.NoError(t, f.worker.Process(ctx, task))
	require.Equal(t, 1, f.merger.calls())

	// 片方のページファイルが消えていても残りで結合する
	require.NoError(t, os.Remove(filepath.Join(m.JobDir("job-1"), "site.example_b.pdf")))

	first, err := m.Merge(ctx, "job-1")
	require.NoError(t, err)
	second, err := m.Merge(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, "combined_job-1.pdf", first.MergedPDF)
	assert.Equal(t, first.MergedPDF, second.MergedPDF)
	assert.Equal(t, 2, second.MergedPages)
	assert.Equal(t, f.merger.inputs[1], f.merger.inputs[2])
	assert.Len(t, f.merger.inputs[2], 2)
}

func TestManagerMergeErrors(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Merge(ctx, "unknown")
	requireCode(t, err, CodeJobNotFound)

	f.submit(t, "queued", "https://site.example/", 0)
	_, err = m.Merge(ctx, "queued")
	requireCode(t, err, CodeNothingToMerge)

	task := f.submit(t, "done", "https://site.example/", 0)
	require.NoError(t, f.worker.Process(ctx, task))
	f.merger.err = errors.New("broken pdf")
	_, err = m.Merge(ctx, "done")
	requireCode(t, err, CodeMergeFailed)
}

func TestManagerSweep(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()

	old := queuedRecord("old", time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, f.store.Create(ctx, old))
	_, err := f.storage.Ensure("old")
	require.NoError(t, err)
	f.submit(t, "fresh", "https://site.example/", 0)

	removed, err := m.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Status(ctx, "old")
	requireCode(t, err, CodeJobNotFound)
	assert.NoDirExists(t, m.JobDir("old"))

	_, err = m.Status(ctx, "fresh")
	assert.NoError(t, err)
}
