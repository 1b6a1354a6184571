package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用したサイトリポジトリ。
// サイト本体と(Book, Site)ごとのフィンガープリント集合の両方を管理する。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

const siteColumns = `id, book_id, kind, name, url, enabled,
       last_check, listings_found, created_at, updated_at`

// CreateAll は複数サイトを同一トランザクションでまとめて作成する。
func (r *PostgresSiteRepo) CreateAll(ctx context.Context, sites []*model.Site) error {
	if len(sites) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, site := range sites {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sites (id, book_id, kind, name, url, enabled,
			                    last_check, listings_found, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			site.ID, site.BookID, site.Kind, site.Name, site.URL, site.Enabled,
			nullTime(site.LastCheck), site.ListingsFound, site.CreatedAt, site.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("サイトの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("サイト作成のコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByBookID は書籍に紐付く全サイトを返す。
func (r *PostgresSiteRepo) ListByBookID(ctx context.Context, bookID string) ([]*model.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE book_id = $1 ORDER BY created_at ASC`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("サイト一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("サイトの読み取りに失敗しました: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイトの走査に失敗しました: %w", err)
	}
	return sites, nil
}

// FindByBookAndURL は書籍IDとURLでカスタムサイトを検索する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) FindByBookAndURL(ctx context.Context, bookID, url string) (*model.Site, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE book_id = $1 AND url = $2 AND kind = $3`,
		bookID, url, model.SiteKindCustom,
	)

	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サイトの検索に失敗しました: %w", err)
	}
	return site, nil
}

// DeleteByID は指定IDのサイトを削除する。フィンガープリント履歴もCASCADE削除される。
func (r *PostgresSiteRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("サイトの削除に失敗しました: %w", err)
	}
	return nil
}

// UpdateCheckState はサイトのlast_checkを更新し、listings_foundを加算する。
// 失敗したソースでもlast_checkは試行時刻に進む（newListings=0で呼び出す）。
func (r *PostgresSiteRepo) UpdateCheckState(ctx context.Context, siteID string, checkedAt time.Time, newListings int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sites SET
		    last_check = $2,
		    listings_found = listings_found + $3,
		    updated_at = now()
		 WHERE id = $1`,
		siteID, checkedAt, newListings,
	)
	if err != nil {
		return fmt.Errorf("サイトのチェック状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListFingerprints はサイトの既知フィンガープリント集合を返す。
func (r *PostgresSiteRepo) ListFingerprints(ctx context.Context, siteID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint FROM site_fingerprints WHERE site_id = $1`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("フィンガープリントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	fps := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("フィンガープリントの読み取りに失敗しました: %w", err)
		}
		fps[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィンガープリントの走査に失敗しました: %w", err)
	}
	return fps, nil
}

// AddFingerprints はサイトにフィンガープリントを追加する。
// ON CONFLICT DO NOTHINGにより再実行しても冪等に成功する。
func (r *PostgresSiteRepo) AddFingerprints(ctx context.Context, siteID string, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, fp := range fingerprints {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO site_fingerprints (site_id, fingerprint, first_seen)
			 VALUES ($1, $2, now())
			 ON CONFLICT (site_id, fingerprint) DO NOTHING`,
			siteID, fp,
		)
		if err != nil {
			return fmt.Errorf("フィンガープリントの追加に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("フィンガープリント追加のコミットに失敗しました: %w", err)
	}
	return nil
}

// scanSite は1行を読み取りSiteに変換する。
func scanSite(s scanner) (*model.Site, error) {
	site := &model.Site{}
	var lastCheck sql.NullTime

	err := s.Scan(
		&site.ID, &site.BookID, &site.Kind, &site.Name, &site.URL, &site.Enabled,
		&lastCheck, &site.ListingsFound, &site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	site.LastCheck = nullTimeValue(lastCheck)
	return site, nil
}

// compile-time interface check
var _ SiteRepository = (*PostgresSiteRepo)(nil)
