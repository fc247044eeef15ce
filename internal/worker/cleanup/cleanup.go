// Package cleanup はスキャンログの自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過したログエントリを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ptwatch/internal/repository"
)

// CleanupJob は保持期間を超過したスキャンログの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	logRepo       repository.ScanLogRepository
	logger        *slog.Logger
	RetentionDays int // ログの保持日数（デフォルト: 14）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は14日。
func NewCleanupJob(logRepo repository.ScanLogRepository, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		logRepo:       logRepo,
		logger:        logger,
		RetentionDays: 14,
	}
}

// Run は保持期間を超過したスキャンログを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := time.Now().UTC().AddDate(0, 0, -j.RetentionDays)
	deletedCount, err := j.logRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("ログクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ログクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ログクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は24時間間隔のティッカーでクリーンアップジョブを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	if err := j.Run(ctx); err != nil {
		j.logger.Error("初回クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
