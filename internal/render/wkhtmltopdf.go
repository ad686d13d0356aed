// Package render は wkhtmltopdf を使って URL を PDF に変換します。
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
)

const (
	// UserAgent はレンダリング時と事前確認時に送る User-Agent です。
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/103.0.0.0 Safari/537.36"

	pageSize          = "A4"
	pageMargin        = "0.75in"
	javascriptDelayMS = 2000
)

// ErrEmptyOutput はレンダラーが空の（または存在しない）ファイルを出力した場合のエラーです。
var ErrEmptyOutput = errors.New("rendered pdf is missing or empty")

// Options は Wkhtmltopdf の設定です。
type Options struct {
	BinaryPath   string
	Timeout      time.Duration // 1回の実行の上限
	FetchTimeout time.Duration // 事前確認の上限
	Preflight    bool          // 変換前に URL へ GET して到達性を確認する
}

// Wkhtmltopdf は外部コマンド wkhtmltopdf を呼び出すレンダラーです。
type Wkhtmltopdf struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// NewWkhtmltopdf はレンダラーを生成します。
func NewWkhtmltopdf(opts Options, logger *zap.Logger) *Wkhtmltopdf {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "wkhtmltopdf"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Wkhtmltopdf{
		opts:   opts,
		client: &http.Client{Timeout: opts.FetchTimeout},
		logger: logging.OrNop(logger),
	}
}

// Render は url を outputPath にPDFとして書き出します。
// 出力ファイルが存在し、空でなく、PDFとして判定できた場合のみ nil を返します。
func (w *Wkhtmltopdf) Render(ctx context.Context, url, outputPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panicked: %v", r)
		}
		if err != nil {
			w.logger.Warn("render failed", zap.String("url", url), zap.Error(err))
		}
	}()

	if w.opts.Preflight {
		if err := w.preflight(ctx, url); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, w.opts.BinaryPath, Args(url, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	w.logger.Debug("wkhtmltopdf finished",
		zap.String("url", url),
		zap.Duration("elapsed", time.Since(started)),
		zap.NamedError("exit", runErr))

	// load-error-handling=ignore でも終了コードが非0になることがあるため、
	// 成否は出力ファイルで判定する
	if verr := verifyPDF(outputPath); verr != nil {
		if runErr != nil {
			return fmt.Errorf("wkhtmltopdf failed: %w: %s", runErr, tail(stderr.String(), 512))
		}
		return verr
	}
	return nil
}

// Args は wkhtmltopdf に渡す引数を組み立てます。
func Args(url, outputPath string) []string {
	return []string{
		"--page-size", pageSize,
		"--margin-top", pageMargin,
		"--margin-right", pageMargin,
		"--margin-bottom", pageMargin,
		"--margin-left", pageMargin,
		"--encoding", "UTF-8",
		"--no-outline",
		"--quiet",
		"--javascript-delay", fmt.Sprint(javascriptDelayMS),
		"--no-stop-slow-scripts",
		"--enable-local-file-access",
		"--load-error-handling", "ignore",
		"--custom-header", "User-Agent", UserAgent,
		url,
		outputPath,
	}
}

func (w *Wkhtmltopdf) preflight(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("preflight request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("preflight fetch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("preflight fetch: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func verifyPDF(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return ErrEmptyOutput
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("inspect rendered file: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return fmt.Errorf("rendered file is %s, not a pdf", mtype.String())
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
