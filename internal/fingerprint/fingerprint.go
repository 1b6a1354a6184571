// Package fingerprint はリスティングの安定した同一性キーを導出する。
// 同じ商品を再スクレイプしたとき、タイトルや価格表記の軽微な揺れがあっても
// 「既知」と認識できるよう、正規化したタプルのハッシュをキーとする。
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Key はRawListingの構成要素から決定的なフィンガープリントを計算する。
// 正規化（小文字化・空白圧縮）したタイトルと価格、ソースURLの
// タプルに対するSHA-256ハッシュを返す。副作用はない。
//
// 同一のカタログURLでタイトル・価格が実質的に変わらない2つのリスティングは
// 独立したスクレイプ実行をまたいでも同じキーに写像される。
func Key(title, price, url string) string {
	data := fmt.Sprintf("%s|%s|%s", Normalize(title), Normalize(price), strings.TrimSpace(url))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Normalize はテキストをケースフォールドし、連続する空白を1つに圧縮する。
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
