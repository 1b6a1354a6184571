package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

const bookColumns = `id, title, author, is_active, enable_search_fallback,
       last_checked, created_at, updated_at`

// Create は書籍を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, is_active, enable_search_fallback,
		                    last_checked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.Title, book.Author, book.IsActive, book.EnableSearchFallback,
		nullTime(book.LastChecked), book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("書籍の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`, id)

	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	return book, nil
}

// List は全書籍を作成日時降順で返す。
func (r *PostgresBookRepo) List(ctx context.Context) ([]*model.Book, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("書籍一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectBooks(rows)
}

// ListActive はアクティブな書籍を返す。スケジューラのスイープ対象。
func (r *PostgresBookRepo) ListActive(ctx context.Context) ([]*model.Book, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE is_active = TRUE ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("アクティブ書籍の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectBooks(rows)
}

// UpdateLastChecked は書籍の最終チェック日時を更新する。
func (r *PostgresBookRepo) UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE books SET last_checked = $2, updated_at = now() WHERE id = $1`,
		id, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("最終チェック日時の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの書籍を削除する。
// sites、site_fingerprints、listingsはCASCADE削除され、notificationsは保持される。
func (r *PostgresBookRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewBookNotFoundError(id)
	}
	return nil
}

// scanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanBook は1行を読み取りBookに変換する。
func scanBook(s scanner) (*model.Book, error) {
	book := &model.Book{}
	var lastChecked sql.NullTime

	err := s.Scan(
		&book.ID, &book.Title, &book.Author, &book.IsActive, &book.EnableSearchFallback,
		&lastChecked, &book.CreatedAt, &book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	book.LastChecked = nullTimeValue(lastChecked)
	return book, nil
}

// collectBooks は結果セット全体をBookのスライスに変換する。
func collectBooks(rows *sql.Rows) ([]*model.Book, error) {
	var books []*model.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("書籍の読み取りに失敗しました: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("書籍の走査に失敗しました: %w", err)
	}
	return books, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
