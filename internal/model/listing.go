package model

import "time"

// RawListing はソースアダプタが返す1件の販売情報。
// 永続化されず、フィンガープリントによる同一性判定の入力となる。
type RawListing struct {
	Title      string
	Price      string
	URL        string
	Seller     string
	Condition  string
	MatchScore float64
}

// Listing は発見済みリスティングの永続化レコード。
// Bookの「発見済み一覧」表示を支え、Book削除時にCASCADE削除される。
type Listing struct {
	ID         string
	BookID     string
	SiteID     string
	SiteName   string
	Title      string
	Price      string
	URL        string
	Seller     string
	Condition  string
	MatchScore float64
	FoundAt    time.Time
}
