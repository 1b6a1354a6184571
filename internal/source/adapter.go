package source

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/bookwatch/internal/match"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

const (
	// maxListingsPerSource は1ソースあたりの返却リスティング上限。
	maxListingsPerSource = 10

	// maxElementsPerSelector は1セレクタあたりの解析要素数上限。
	maxElementsPerSelector = 15

	// minTitleLength はリスティングタイトルとして有効な最小文字数。
	// ナビゲーションリンク等のノイズを除外する。
	minTitleLength = 5

	// looseScoreFloor は閾値未満でも結果に含める複合スコアの下限。
	// 表記揺れの大きいカタログでも候補を取りこぼさないための緩い足切り。
	looseScoreFloor = 0.3

	// priceNotListed は価格が抽出できなかった場合のプレースホルダ。
	priceNotListed = "Fiyat belirtilmemiş"

	// conditionSecondHand は中古カタログのリスティングの既定の状態表記。
	conditionSecondHand = "İkinci el"
)

// Adapter は1つの検索ソース（固定カタログ・カスタムサイト・Web検索）を表す。
// FetchListingsは書籍のタイトル・著者で検索し、一致したリスティングを返す。
type Adapter interface {
	// Name はソースの識別名を返す。SiteのNameと一致する。
	Name() string

	// FetchListings は書籍を検索し、あいまい一致でフィルタ済みの
	// リスティングを返す。結果はスコア降順で最大10件。
	FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error)
}

// NewAdapter はSiteの種別に応じたAdapterを生成する。
func NewAdapter(site model.Site, client *Client, sanitizer security.ContentSanitizerService) (Adapter, error) {
	switch site.Kind {
	case model.SiteKindCatalog:
		switch site.Name {
		case model.CatalogNadirKitap:
			return NewNadirKitapAdapter(client, sanitizer), nil
		case model.CatalogKitantik:
			return NewKitantikAdapter(client, sanitizer), nil
		case model.CatalogHalkKitabevi:
			return NewHalkKitabeviAdapter(client, sanitizer), nil
		default:
			return nil, fmt.Errorf("未知のカタログです: %s", site.Name)
		}
	case model.SiteKindCustom:
		return NewCustomSiteAdapter(site, client, sanitizer), nil
	case model.SiteKindSearch:
		return NewWebSearchAdapter(client, sanitizer), nil
	default:
		return nil, fmt.Errorf("未知のサイト種別です: %s", site.Kind)
	}
}

// searchTerms は検索語の候補を優先順に返す。
//  1. タイトル + 著者
//  2. タイトルのみ
//  3. 著者のみ
//  4. タイトル中のキーワード（4文字以上、最大3語）
func searchTerms(title, author string) []string {
	terms := []string{
		strings.TrimSpace(title + " " + author),
		title,
		author,
	}

	words := strings.Fields(title)
	if len(words) > 1 {
		var keyWords int
		for _, w := range words {
			if len([]rune(w)) > 3 {
				terms = append(terms, w)
				keyWords++
				if keyWords == 3 {
					break
				}
			}
		}
	}

	// 空・重複を除去
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// dedupeAndRank はURLで重複を除去し、スコア降順に整列して上限件数に丸める。
func dedupeAndRank(listings []model.RawListing, max int) []model.RawListing {
	seen := make(map[string]struct{}, len(listings))
	unique := listings[:0]
	for _, l := range listings {
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		unique = append(unique, l)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].MatchScore > unique[j].MatchScore
	})

	if len(unique) > max {
		unique = unique[:max]
	}
	return unique
}

// pricePatterns はリスティングテキストから価格を抽出する正規表現。
// トルコリラ表記の揺れ（"45 TL", "45,50 TL", "₺45"）に対応する。
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+[.,]\d+\s*TL`),
	regexp.MustCompile(`(?i)\d+\s*TL`),
	regexp.MustCompile(`₺\s*\d+[.,]?\d*`),
}

// extractPrice は要素のテキストから価格表記を抽出する。
// 見つからない場合はプレースホルダを返す。
func extractPrice(text string) string {
	for _, p := range pricePatterns {
		if m := p.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return priceNotListed
}

// resolveHref は相対hrefをベースURLに対して解決する。
func resolveHref(baseURL, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return strings.TrimSuffix(baseURL, "/") + href
}

// catalogParser は固定カタログの検索結果ページの共通解析ロジック。
// カタログごとにセレクタ・ベースURL・出品者名が異なる。
type catalogParser struct {
	baseURL   string
	seller    string
	selectors []string
	sanitizer security.ContentSanitizerService
}

// parse は検索結果のHTMLからリスティングを抽出する。
// セレクタを優先順に試し、最初にヒットしたセレクタの結果を使う。
// リスティングはあいまい一致スコアでフィルタされる。
func (p *catalogParser) parse(doc *goquery.Document, title, author string) []model.RawListing {
	for _, selector := range p.selectors {
		elements := doc.Find(selector)
		if elements.Length() == 0 {
			continue
		}

		var listings []model.RawListing
		elements.EachWithBreak(func(i int, el *goquery.Selection) bool {
			if i >= maxElementsPerSelector {
				return false
			}

			titleEl := firstOf(el, "a", "h3", "h2", "h4")
			if titleEl == nil {
				return true
			}

			listingTitle := p.sanitizer.SanitizeText(titleEl.Text())
			if len([]rune(listingTitle)) < minTitleLength {
				return true
			}

			matched, score := match.IsMatch(listingTitle, title, author, match.DefaultThreshold)
			if !matched && score <= looseScoreFloor {
				return true
			}

			href, _ := titleEl.Attr("href")
			listingURL := resolveHref(p.baseURL, href)
			if listingURL == "" {
				return true
			}

			listings = append(listings, model.RawListing{
				Title:      listingTitle,
				Price:      extractPrice(el.Text()),
				URL:        listingURL,
				Seller:     p.seller,
				Condition:  conditionSecondHand,
				MatchScore: score,
			})
			return true
		})

		if len(listings) > 0 {
			return listings
		}
	}
	return nil
}

// firstOf はセレクタ候補を順に試し、最初に見つかった要素を返す。
func firstOf(el *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, s := range selectors {
		if found := el.Find(s).First(); found.Length() > 0 {
			return found
		}
	}
	// 要素自身がリンクの場合（a[href*=...]セレクタでの直接ヒット）
	if goquery.NodeName(el) == "a" {
		return el
	}
	return nil
}
