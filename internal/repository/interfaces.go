// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
)

// BookRepository は書籍データの永続化インターフェース。
type BookRepository interface {
	// Create は書籍を作成する。
	Create(ctx context.Context, book *model.Book) error

	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// List は全書籍を作成日時降順で返す。
	List(ctx context.Context) ([]*model.Book, error)

	// ListActive はアクティブな書籍を返す。スケジューラのスイープ対象。
	ListActive(ctx context.Context) ([]*model.Book, error)

	// UpdateLastChecked は書籍の最終チェック日時を更新する。
	UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error

	// DeleteByID は指定IDの書籍を削除する。
	// 関連するsites、site_fingerprints、listingsはCASCADE削除される。
	// notificationsは監査・履歴用に保持される。
	DeleteByID(ctx context.Context, id string) error
}

// SiteRepository はサイトデータとフィンガープリント集合の永続化インターフェース。
type SiteRepository interface {
	// CreateAll は複数サイトをまとめて作成する。
	CreateAll(ctx context.Context, sites []*model.Site) error

	// ListByBookID は書籍に紐付く全サイトを返す。
	ListByBookID(ctx context.Context, bookID string) ([]*model.Site, error)

	// FindByBookAndURL は書籍IDとURLでカスタムサイトを検索する。見つからない場合はnilを返す。
	FindByBookAndURL(ctx context.Context, bookID, url string) (*model.Site, error)

	// DeleteByID は指定IDのサイトを削除する。フィンガープリント履歴もCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// UpdateCheckState はサイトのlast_checkを更新し、listings_foundを加算する。
	UpdateCheckState(ctx context.Context, siteID string, checkedAt time.Time, newListings int) error

	// ListFingerprints はサイトの既知フィンガープリント集合を返す。
	ListFingerprints(ctx context.Context, siteID string) (map[string]struct{}, error)

	// AddFingerprints はサイトにフィンガープリントを追加する。
	// 既存のフィンガープリントと重複しても冪等に成功する。
	AddFingerprints(ctx context.Context, siteID string, fingerprints []string) error
}

// ListingRepository は発見済みリスティングの永続化インターフェース。
type ListingRepository interface {
	// Create はリスティングを作成する。
	Create(ctx context.Context, listing *model.Listing) error

	// ListByBookID は書籍の発見済みリスティングをfound_at降順で返す。
	ListByBookID(ctx context.Context, bookID string) ([]*model.Listing, error)
}

// NotificationRepository は通知データの永続化インターフェース。
// 通知は追記専用で、既読フラグの遷移（未読→既読、一方向）のみ変更可能。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, n *model.Notification) error

	// List は全通知をcreated_at降順で返す。
	List(ctx context.Context, limit int) ([]*model.Notification, error)

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// MarkRead は通知を既読にする。既に既読の場合は何もせず成功する。
	MarkRead(ctx context.Context, id string) error
}

// SettingsRepository はプロセス全体設定の永続化インターフェース。
type SettingsRepository interface {
	// Get は設定を取得する。未設定の場合はデフォルト値を返す。
	Get(ctx context.Context) (*model.Settings, error)

	// Update は設定を更新する。
	Update(ctx context.Context, s *model.Settings) error
}
