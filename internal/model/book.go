// Package model はドメインモデルを定義する。
package model

import "time"

// Book は追跡対象の書籍（タイトル・著者の組）を表す。
type Book struct {
	ID                   string
	Title                string
	Author               string
	IsActive             bool
	EnableSearchFallback bool
	LastChecked          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SiteKind はサイトの種別を表す。
type SiteKind string

const (
	// SiteKindCatalog は固定カタログサイト。
	SiteKindCatalog SiteKind = "catalog"
	// SiteKindCustom はユーザーが追加したカスタムサイト。
	SiteKindCustom SiteKind = "custom"
	// SiteKindSearch はWeb検索フォールバック。
	SiteKindSearch SiteKind = "search"
)

// 固定カタログの識別子。
const (
	CatalogNadirKitap   = "nadirkitap"
	CatalogKitantik     = "kitantik"
	CatalogHalkKitabevi = "halkkitabevi"
	SearchFallbackName  = "websearch"
)

// FixedCatalogs は登録可能な固定カタログの一覧。
var FixedCatalogs = []string{
	CatalogNadirKitap,
	CatalogKitantik,
	CatalogHalkKitabevi,
}

// IsFixedCatalog は指定された名前が固定カタログかを判定する。
func IsFixedCatalog(name string) bool {
	for _, c := range FixedCatalogs {
		if c == name {
			return true
		}
	}
	return false
}

// Site は1冊のBookに紐付くチェック対象ソースを表す。
// 固定カタログ・カスタムURL・検索フォールバックのいずれかで、
// (Book, Site) ごとに既知リスティングのフィンガープリント集合を保持する。
type Site struct {
	ID            string
	BookID        string
	Kind          SiteKind
	Name          string
	URL           string
	Enabled       bool
	LastCheck     *time.Time
	ListingsFound int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
