package jobs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const maxBaseNameRunes = 100

// MergedFilename はジョブの結合PDFのファイル名です。
func MergedFilename(jobID string) string {
	return fmt.Sprintf("combined_%s.pdf", jobID)
}

// BaseNameFromURL は URL のホストとパスからファイル名（拡張子なし）を作ります。
// 英数字と ._- と空白以外は _ に置き換え、100文字で切り詰めます。
func BaseNameFromURL(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		path = u.Host + u.Path
	}
	path = strings.TrimSuffix(path, "/")

	var b strings.Builder
	n := 0
	for _, r := range path {
		if n == maxBaseNameRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		n++
	}

	name := strings.Trim(b.String(), ". ")
	if name == "" {
		return "page"
	}
	return name
}

// filenameAllocator はジョブフォルダ内で重複しないファイル名を払い出します。
type filenameAllocator struct {
	dir  string
	used map[string]struct{}
}

func newFilenameAllocator(dir string) *filenameAllocator {
	return &filenameAllocator{dir: dir, used: make(map[string]struct{})}
}

// Reserve は name.pdf、衝突すれば name_1.pdf, name_2.pdf ... を返します。
func (a *filenameAllocator) Reserve(base string) string {
	candidate := base + ".pdf"
	for i := 1; a.taken(candidate); i++ {
		candidate = fmt.Sprintf("%s_%d.pdf", base, i)
	}
	a.used[candidate] = struct{}{}
	return candidate
}

func (a *filenameAllocator) taken(name string) bool {
	if _, ok := a.used[name]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(a.dir, name))
	return err == nil
}
