// Package links はページ内の同一オリジンへのリンクを抽出します。
package links

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
)

const (
	// DefaultTimeout はページ取得のタイムアウトです。
	DefaultTimeout = 10 * time.Second
	// BrowserUserAgent は取得時に名乗るブラウザの User-Agent です。
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/103.0.0.0 Safari/537.36"

	maxBodyBytes = 10 << 20
)

// ページではないファイルの拡張子
var skippedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".pdf", ".zip", ".doc", ".docx"}

var skippedPrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// Extractor はページを取得し、PDF化の対象となるリンクを返します。
type Extractor struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewExtractor は Extractor を生成します。client が nil の場合は DefaultTimeout の
// クライアントを使います。
func NewExtractor(client *http.Client, logger *zap.Logger) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Extractor{
		client:    client,
		userAgent: BrowserUserAgent,
		logger:    logging.OrNop(logger),
	}
}

// Extract は pageURL と同じオリジンに属するリンクを、初出順・重複なしで返します。
// 失敗はすべてログに記録し、リンク0件として扱います。
func (e *Extractor) Extract(ctx context.Context, pageURL string) []string {
	links, err := e.extract(ctx, pageURL)
	if err != nil {
		e.logger.Warn("link extraction failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	e.logger.Info("extracted links", zap.String("url", pageURL), zap.Int("count", len(links)))
	return links
}

func (e *Extractor) extract(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if !isHTTP(base) {
		return nil, fmt.Errorf("unsupported page url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("not html (content-type %q)", contentType)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return collectLinks(doc, base), nil
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := normalizeLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}

// normalizeLink は href を絶対URLに解決し、対象外なら false を返します。
func normalizeLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || href == "/" {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if !isHTTP(resolved) || !SameOrigin(base, resolved) {
		return "", false
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""

	path := strings.ToLower(resolved.Path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(path, ext) {
			return "", false
		}
	}

	return resolved.String(), true
}

// SameOrigin はスキームとホストが一致するかを返します。
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
