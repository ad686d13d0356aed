package jobs

import (
	"fmt"
	"slices"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task はキューに流れる1件の変換要求です。
type Task struct {
	JobID    string `json:"jobId"`
	URL      string `json:"url"`
	MaxDepth int    `json:"maxDepth"`
}

// Progress はリンク先ページ変換の進捗です。maxDepth > 0 のジョブにのみ存在します。
// ProcessedURLs = SuccessfulURLs + FailedURLs が常に成り立ちます。
type Progress struct {
	TotalURLs      int  `json:"totalUrls"`
	ProcessedURLs  int  `json:"processedUrls"`
	SuccessfulURLs int  `json:"successfulUrls"`
	FailedURLs     int  `json:"failedUrls"`
	Limit          int  `json:"limit"`
	Truncated      bool `json:"truncated"`
}

// RenderedPage は変換に成功したリンク先ページです。
type RenderedPage struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// FailedPage は変換に失敗したページです。
type FailedPage struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID         string         `json:"jobId"`
	URL           string         `json:"url"`
	MaxDepth      int            `json:"maxDepth"`
	Status        Status         `json:"status"`
	MainPDF       string         `json:"mainPdf,omitempty"`
	MainError     string         `json:"mainError,omitempty"`
	Progress      *Progress      `json:"progress,omitempty"`
	RenderedPages []RenderedPage `json:"renderedPages,omitempty"`
	FailedPages   []FailedPage   `json:"failedPages,omitempty"`
	MergedPDF     string         `json:"mergedPdf,omitempty"`
	MergedPages   int            `json:"mergedPages,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// Transition は状態を next に進めます。
// queued → processing → completed / failed 以外の遷移は ErrInvalidTransition です。
func (r *Record) Transition(next Status, at time.Time) error {
	allowed := false
	switch r.Status {
	case StatusQueued:
		allowed = next == StatusProcessing
	case StatusProcessing:
		allowed = next.Terminal()
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}

	r.Status = next
	r.LastUpdated = at
	switch {
	case next == StatusProcessing:
		r.StartedAt = &at
	case next.Terminal():
		r.FinishedAt = &at
	}
	return nil
}

// Clone は呼び出し側が自由に変更できる深いコピーを返します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Progress != nil {
		p := *r.Progress
		c.Progress = &p
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.RenderedPages = slices.Clone(r.RenderedPages)
	c.FailedPages = slices.Clone(r.FailedPages)
	return &c
}

// Task はレコードからキュー投入用の Task を組み立てます。
func (r *Record) Task() Task {
	return Task{JobID: r.JobID, URL: r.URL, MaxDepth: r.MaxDepth}
}
