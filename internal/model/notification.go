package model

import "time"

// Notification は新規リスティング検出をユーザーに知らせる通知。
// 新規リスティング1件につき正確に1回生成され、自動削除されない。
// Bookが削除されても監査・履歴用に保持される（book_idへの外部キーは張らない）。
type Notification struct {
	ID         string
	BookID     string
	BookTitle  string
	Message    string
	ListingURL string
	Read       bool
	CreatedAt  time.Time
}
