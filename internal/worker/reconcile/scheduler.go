// Package reconcile は支払いレコードのない予約を定期的に検出して報告するワーカーを提供する。
// 検出した予約は修正せず、ログとメトリクスで運用者に知らせる。
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

// OrphanReporter は孤立予約の検出インターフェース。booking.Serviceが満たす。
type OrphanReporter interface {
	ReportOrphans(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Booking, error)
}

// Config はスケジューラの設定。
type Config struct {
	// Threshold は予約作成からこの期間を過ぎても支払いレコードがなければ孤立とみなす。
	Threshold time.Duration
	// Limit は1サイクルで報告する最大件数。
	Limit int
}

// Scheduler は孤立予約の検出を定期実行する。
type Scheduler struct {
	reporter OrphanReporter
	logger   *slog.Logger
	config   Config
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// Limitが0以下の場合はデフォルト値100を使用する。
func NewScheduler(reporter OrphanReporter, logger *slog.Logger, config Config) *Scheduler {
	if config.Limit <= 0 {
		config.Limit = 100
	}
	if config.Threshold <= 0 {
		config.Threshold = 30 * time.Minute
	}
	return &Scheduler{
		reporter: reporter,
		logger:   logger,
		config:   config,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("孤立予約スキャンを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("threshold", s.config.Threshold),
	)

	// 起動直後に1回実行
	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("孤立予約スキャンを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("孤立予約スキャンに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は孤立予約を1回検出し、件数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	orphans, err := s.reporter.ReportOrphans(ctx, s.config.Threshold, s.config.Limit)
	if err != nil {
		return 0, err
	}

	level := slog.LevelInfo
	if len(orphans) > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "孤立予約スキャンが完了しました",
		slog.Int("orphan_count", len(orphans)),
		slog.Bool("truncated", len(orphans) >= s.config.Limit),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return len(orphans), nil
}
