// Package match は検索結果と追跡対象書籍のあいまい一致判定を提供する。
// カタログの検索結果には関係のない商品が多く混ざるため、
// タイトル類似度と著者出現の重み付きスコアでフィルタする。
package match

import (
	"regexp"
	"strings"
)

const (
	// DefaultThreshold は一致と判定する複合スコアの既定閾値。
	DefaultThreshold = 0.6

	// titleWeight / authorWeight は複合スコアの重み。
	titleWeight  = 0.7
	authorWeight = 0.3
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	parentheticRe = regexp.MustCompile(`\s*\(.*?\)\s*`)
)

// CleanText はマッチング用にテキストを正規化する。
// 空白の圧縮、括弧書き（版情報など一致を妨げる付記）の除去、小文字化を行う。
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	text = parentheticRe.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// Similarity は2つの文字列の類似度を0.0〜1.0で返す。
// 文字バイグラムのDice係数を使用する。短い文字列同士は完全一致のみ1.0となる。
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)

	var overlap int
	for g, n := range bigramsA {
		if m, ok := bigramsB[g]; ok {
			if n < m {
				overlap += n
			} else {
				overlap += m
			}
		}
	}

	totalA := len([]rune(a)) - 1
	totalB := len([]rune(b)) - 1
	return 2.0 * float64(overlap) / float64(totalA+totalB)
}

// bigrams は文字列に含まれる文字バイグラムの出現数を返す。
func bigrams(s string) map[string]int {
	runes := []rune(s)
	grams := make(map[string]int, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}

// Score はリスティングタイトルが検索対象の書籍にどの程度一致するかの
// 複合スコアを返す。タイトル類似度を0.7、著者出現度を0.3で重み付けする。
func Score(listingTitle, searchTitle, searchAuthor string) float64 {
	cleanListing := CleanText(listingTitle)
	cleanTitle := CleanText(searchTitle)
	cleanAuthor := CleanText(searchAuthor)

	// カタログのリスティング名には出版社や著者が付加されることが多く、
	// 全文のバイグラム類似度では長いほど不利になる。
	// 検索タイトルがそのまま含まれていれば完全一致として扱う。
	titleScore := Similarity(cleanListing, cleanTitle)
	if cleanTitle != "" && strings.Contains(cleanListing, cleanTitle) {
		titleScore = 1.0
	}

	// 著者名の各パートがリスティング内に出現するかを確認する。
	// 完全包含は0.8、類似語の出現はその類似度をスコアとする。
	var authorScore float64
	if cleanAuthor != "" {
		listingWords := strings.Fields(cleanListing)
		for _, part := range strings.Fields(cleanAuthor) {
			if len([]rune(part)) <= 2 {
				continue
			}
			if strings.Contains(cleanListing, part) {
				if authorScore < 0.8 {
					authorScore = 0.8
				}
				continue
			}
			for _, word := range listingWords {
				if s := Similarity(word, part); s > 0.7 && s > authorScore {
					authorScore = s
				}
			}
		}
	}

	return titleScore*titleWeight + authorScore*authorWeight
}

// IsMatch はリスティングタイトルが検索条件に一致するかを判定し、
// 判定結果と複合スコアを返す。
func IsMatch(listingTitle, searchTitle, searchAuthor string, threshold float64) (bool, float64) {
	score := Score(listingTitle, searchTitle, searchAuthor)
	return score >= threshold, score
}
