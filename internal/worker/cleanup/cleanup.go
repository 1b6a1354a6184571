// Package cleanup はリスティングの保持期間管理を提供する。
// 保持期間を超過した古いリスティングを日次バッチで削除する。
// フィンガープリント集合は削除対象にしないため、リスティングを消しても
// 同じ出品が再通知されることはない。通知は履歴として扱い自動削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したリスティングの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	// ListingRetentionDays はリスティングの保持日数（デフォルト: 180）。
	ListingRetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                   db,
		logger:               logger,
		ListingRetentionDays: 180,
	}
}

// Run は保持期間を超過したリスティングを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedListings, err := j.deleteOldListings(ctx)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_listings", deletedListings),
		slog.Int("listing_retention_days", j.ListingRetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// deleteOldListings はfound_atが保持期間より古いリスティングを削除する。
func (j *CleanupJob) deleteOldListings(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.ListingRetentionDays)

	query := `DELETE FROM listings WHERE found_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("リスティングのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.ListingRetentionDays),
		)
		return 0, fmt.Errorf("リスティングのクリーンアップに失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}
