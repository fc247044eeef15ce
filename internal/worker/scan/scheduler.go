package scan

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は一定間隔でフルスキャンを起動する。
// 実行本体はCoordinatorに委譲し、前回のサイクルが終わるまで次は始まらない。
type Scheduler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(coordinator *Coordinator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スキャンスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スキャンスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	status, err := s.coordinator.RunAll(ctx)
	if err != nil {
		s.logger.Error("スキャンサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	duration := time.Since(start)
	s.logger.Info("定期スキャンが完了しました",
		slog.Int("site_count", status.SiteCount),
		slog.Int("scanned_count", status.ScannedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}
