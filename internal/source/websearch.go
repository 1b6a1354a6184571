package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/bookwatch/internal/match"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

const (
	googleSearchURL = "https://www.google.com/search"

	// webSearchScoreFloor はWeb検索結果を採用する複合スコアの下限。
	// 検索結果のタイトルはカタログより情報が少ないため閾値を緩める。
	webSearchScoreFloor = 0.4

	// maxWebSearchResults は解析する検索結果の上限。
	maxWebSearchResults = 10
)

// searchTargetHosts はWeb検索の対象に含める書籍サイトのホスト。
// 検索フォールバックは固定カタログと主要な通販サイトに限定する。
var searchTargetHosts = []struct {
	host   string
	seller string
}{
	{"nadirkitap.com", "Nadir Kitap"},
	{"kitantik.com", "Kitantik"},
	{"halkkitabevi.com", "Halk Kitabevi"},
	{"pandora.com.tr", "Pandora"},
	{"idefix.com", "Idefix"},
}

// WebSearchAdapter はWeb検索による在庫確認のフォールバックアダプタ。
// カタログ検索で拾えないリスティングを、書籍サイトに限定した
// Google検索で補完する。
type WebSearchAdapter struct {
	client    *Client
	sanitizer security.ContentSanitizerService

	// searchBaseURL はテスト用に検索エンドポイントを差し替え可能
	searchBaseURL string
}

// NewWebSearchAdapter はWebSearchAdapterの新しいインスタンスを生成する。
func NewWebSearchAdapter(client *Client, sanitizer security.ContentSanitizerService) *WebSearchAdapter {
	return &WebSearchAdapter{
		client:        client,
		sanitizer:     sanitizer,
		searchBaseURL: googleSearchURL,
	}
}

// Name はソースの識別名を返す。
func (a *WebSearchAdapter) Name() string {
	return model.SearchFallbackName
}

// FetchListings は書籍サイトに限定したWeb検索を実行し、一致した結果を返す。
func (a *WebSearchAdapter) FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error) {
	query := fmt.Sprintf("%q %q %s", title, author, a.siteScope())
	searchURL := a.searchBaseURL + "?q=" + url.QueryEscape(query) + "&hl=tr"

	body, _, err := a.client.Get(ctx, searchURL)
	if err != nil {
		return nil, model.NewSourceUnavailableError(model.SearchFallbackName, err.Error())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, model.NewSourceParseFailedError(model.SearchFallbackName, err.Error())
	}

	var listings []model.RawListing
	doc.Find("div.g, div[data-ved]").EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= maxWebSearchResults {
			return false
		}

		titleEl := el.Find("h3").First()
		if titleEl.Length() == 0 {
			titleEl = el.Find("a").First()
		}
		if titleEl.Length() == 0 {
			return true
		}

		resultTitle := a.sanitizer.SanitizeText(titleEl.Text())
		if len([]rune(resultTitle)) < minTitleLength {
			return true
		}

		href, _ := el.Find("a").First().Attr("href")
		if href == "" {
			return true
		}

		seller, ok := sellerForURL(href)
		if !ok {
			return true
		}

		matched, score := match.IsMatch(resultTitle, title, author, match.DefaultThreshold)
		if !matched && score <= webSearchScoreFloor {
			return true
		}

		listings = append(listings, model.RawListing{
			Title:      resultTitle,
			Price:      "Web'de görüntüle",
			URL:        href,
			Seller:     seller,
			Condition:  "Web sonucu",
			MatchScore: score,
		})
		return true
	})

	return dedupeAndRank(listings, maxListingsPerSource), nil
}

// siteScope は検索クエリのsite:演算子部分を構築する。
func (a *WebSearchAdapter) siteScope() string {
	parts := make([]string, 0, len(searchTargetHosts))
	for _, t := range searchTargetHosts {
		parts = append(parts, "site:"+t.host)
	}
	return strings.Join(parts, " OR ")
}

// sellerForURL は検索結果URLから出品サイト名を特定する。
// 対象ホスト外のURLは採用しない。
func sellerForURL(rawURL string) (string, bool) {
	lower := strings.ToLower(rawURL)
	for _, t := range searchTargetHosts {
		if strings.Contains(lower, t.host) {
			return t.seller, true
		}
	}
	return "", false
}

var _ Adapter = (*WebSearchAdapter)(nil)
