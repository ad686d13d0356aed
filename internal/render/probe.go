package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 5 * time.Second

// ProbeResult は wkhtmltopdf の検出結果です。
type ProbeResult struct {
	Path    string `json:"path"`
	Status  string `json:"status"` // found / not_found
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Probe は `wkhtmltopdf --version` を実行し、バイナリが利用可能か確認します。
func (w *Wkhtmltopdf) Probe(ctx context.Context) *ProbeResult {
	result := &ProbeResult{Path: w.opts.BinaryPath}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.opts.BinaryPath, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		result.Status = "not_found"
		result.Error = fmt.Sprintf("%v: %s", err, tail(out.String(), 256))
		return result
	}

	result.Status = "found"
	result.Version = strings.TrimSpace(out.String())
	return result
}
