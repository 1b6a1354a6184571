package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookwatch/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用した設定リポジトリ。
// 設定はid=1の1行のみを持つシングルトンとして扱う。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// Get は設定を取得する。行が存在しない場合はデフォルト値を返す。
func (r *PostgresSettingsRepo) Get(ctx context.Context) (*model.Settings, error) {
	s := &model.Settings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT check_interval_hours, updated_at FROM settings WHERE id = 1`,
	).Scan(&s.CheckIntervalHours, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return &model.Settings{CheckIntervalHours: model.DefaultCheckIntervalHours}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// Update は設定を更新する。行が存在しない場合は作成する。
func (r *PostgresSettingsRepo) Update(ctx context.Context, s *model.Settings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (id, check_interval_hours, updated_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET
		    check_interval_hours = EXCLUDED.check_interval_hours,
		    updated_at = now()`,
		s.CheckIntervalHours,
	)
	if err != nil {
		return fmt.Errorf("設定の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
