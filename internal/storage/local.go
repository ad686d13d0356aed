// Package storage はジョブごとの出力ディレクトリを管理します。
//
// 配置: <Root>/<jobID>/ に変換済みPDFと combined_<jobID>.pdf を保存します。
// ディレクトリは1ジョブにつき1つで、他のジョブと共有されません。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName はジョブIDやファイル名にパス要素が含まれている場合に返されます。
var ErrInvalidName = errors.New("invalid name")

// Local はローカルファイルシステム上のジョブ出力領域です。
type Local struct {
	Root string
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{Root: abs}, nil
}

// JobDir はジョブの出力ディレクトリのパスを返します（作成はしません）。
func (l *Local) JobDir(jobID string) string {
	return filepath.Join(l.Root, jobID)
}

// Ensure はジョブの出力ディレクトリを作成してパスを返します。
func (l *Local) Ensure(jobID string) (string, error) {
	if !validName(jobID) {
		return "", fmt.Errorf("job id %q: %w", jobID, ErrInvalidName)
	}
	dir := l.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// Remove はジョブの出力ディレクトリを中身ごと削除します。存在しなければ何もしません。
func (l *Local) Remove(jobID string) error {
	if !validName(jobID) {
		return fmt.Errorf("job id %q: %w", jobID, ErrInvalidName)
	}
	return os.RemoveAll(l.JobDir(jobID))
}

// Resolve はジョブディレクトリ内のファイルパスを返します。
// ディレクトリ外を指す名前は ErrInvalidName になります。
func (l *Local) Resolve(jobID, name string) (string, error) {
	if !validName(jobID) || !validName(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(l.JobDir(jobID), name), nil
}

// NonEmptyFile はパスが存在し、サイズが 0 より大きい通常ファイルかどうかを返します。
func NonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
