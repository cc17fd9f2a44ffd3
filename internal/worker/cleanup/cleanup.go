// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// expires_atを猶予期間以上過ぎたセッションレコードを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter は期限切れセッションの削除を抽象化するインターフェース。
// repository.PostgresSessionRepo や session.MemoryBackend を受け付けることができる。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	repo   ExpiredDeleter
	logger *slog.Logger
	now    func() time.Time

	Grace    time.Duration // expires_atからの猶予期間（デフォルト: 1時間）
	Interval time.Duration // Startでの実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo ExpiredDeleter, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		Grace:    time.Hour,
		Interval: time.Hour,
	}
}

// Run は期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().Add(-j.Grace)

	deletedCount, err := j.repo.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("grace", j.Grace),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("grace", j.Grace),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、以降Interval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
