package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yourusername/web2pdf/internal/logging"
)

// SweepFunc は保持期間を過ぎたジョブを削除し、件数を返します。Manager.Sweep が該当します。
type SweepFunc func(ctx context.Context, maxAge time.Duration) (int, error)

// Sweeper は cron スケジュールに従って保持期間切れのジョブを掃除します。
type Sweeper struct {
	cron    *cron.Cron
	sweep   SweepFunc
	maxAge  time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewSweeper はスケジュール式（5フィールドまたは @every 等）を解釈して Sweeper を作成します。
func NewSweeper(schedule string, maxAge time.Duration, sweep SweepFunc, logger *zap.Logger) (*Sweeper, error) {
	if sweep == nil {
		return nil, errors.New("sweep func is nil")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention must be positive: %s", maxAge)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	s := &Sweeper{
		cron:    c,
		sweep:   sweep,
		maxAge:  maxAge,
		timeout: 5 * time.Minute,
		logger:  logging.OrNop(logger),
	}
	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start はスケジューラーをバックグラウンドで開始します。
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("retention sweeper started", zap.Duration("retention", s.maxAge))
}

// Stop は新しい実行を止め、実行中の掃除が終わるか ctx が終わるまで待ちます。
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	removed, err := s.sweep(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	s.logger.Debug("retention sweep finished", zap.Int("removed", removed))
}
