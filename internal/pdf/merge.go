// Package pdf は pdfcpu を使ったPDFの結合とページ数取得を提供します。
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
	"github.com/yourusername/web2pdf/internal/storage"
)

// ErrNoInputs は結合できる入力ファイルが1つもない場合のエラーです。
var ErrNoInputs = errors.New("no pdf inputs to merge")

// Merger は複数のPDFを入力順に1つへ結合します。
type Merger struct {
	conf   *model.Configuration
	logger *zap.Logger
}

// NewMerger は Merger を生成します。
func NewMerger(logger *zap.Logger) *Merger {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Merger{conf: conf, logger: logging.OrNop(logger)}
}

// Merge は inputs を順番どおりに結合して outputPath に書き出します。
// 存在しない・空の入力は警告を出してスキップします。
// 一時ファイルに書いてからリネームするため、同じ出力先への再実行は上書きになります。
func (m *Merger) Merge(ctx context.Context, inputs []string, outputPath string) error {
	usable := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if !storage.NonEmptyFile(in) {
			m.logger.Warn("skipping missing or empty pdf", zap.String("path", in))
			continue
		}
		usable = append(usable, in)
	}
	if len(usable) == 0 {
		return ErrNoInputs
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".merge-*.pdf")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	m.logger.Info("merging pdfs", zap.Int("inputs", len(usable)), zap.String("output", outputPath))
	if err := pdfapi.MergeCreateFile(usable, tmpPath, false, m.conf); err != nil {
		return fmt.Errorf("merge pdfs: %w", err)
	}
	if !storage.NonEmptyFile(tmpPath) {
		return fmt.Errorf("merged pdf is missing or empty: %s", outputPath)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("move merged pdf into place: %w", err)
	}
	return nil
}

// PageCount はPDFのページ数を返します。
func (m *Merger) PageCount(path string) (int, error) {
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
