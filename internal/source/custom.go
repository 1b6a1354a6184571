package source

import (
	"bytes"
	"context"
	"log/slog"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/bookwatch/internal/match"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

// customSearchPaths はカスタムサイトで試す検索URLパターン。
// 一般的なECサイト・WordPress系サイトの検索パスを網羅する。
var customSearchPaths = []string{
	"/search?q=%s",
	"/ara?q=%s",
	"/arama/%s",
	"/?s=%s",
}

// customSelectors はカスタムサイトの検索結果から商品要素を探す汎用セレクタ。
var customSelectors = []string{
	`div[class*="product"]`,
	`div[class*="book"]`,
	`div[class*="item"]`,
	`div[class*="result"]`,
	`a[href*="kitap"]`,
	"div.card",
}

// CustomSiteAdapter はユーザーが登録した任意サイトの検索アダプタ。
// サイトが新着フィード（RSS/Atom）を公開している場合はフィードを解析し、
// そうでない場合は汎用的な検索パスパターンでHTMLをスクレイプする。
type CustomSiteAdapter struct {
	site       model.Site
	client     *Client
	sanitizer  security.ContentSanitizerService
	feedParser *gofeed.Parser
}

// NewCustomSiteAdapter はCustomSiteAdapterの新しいインスタンスを生成する。
func NewCustomSiteAdapter(site model.Site, client *Client, sanitizer security.ContentSanitizerService) *CustomSiteAdapter {
	return &CustomSiteAdapter{
		site:       site,
		client:     client,
		sanitizer:  sanitizer,
		feedParser: gofeed.NewParser(),
	}
}

// Name はソースの識別名を返す。
func (a *CustomSiteAdapter) Name() string {
	return a.site.Name
}

// FetchListings は書籍を検索し、一致したリスティングを返す。
// 登録URL自体がフィードの場合はフィードアイテムをあいまい一致でフィルタする。
// HTMLサイトの場合は検索パスパターンを順に試してスクレイプする。
func (a *CustomSiteAdapter) FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error) {
	base := strings.TrimSuffix(a.site.URL, "/")

	// 登録URL自体の取得を試み、フィードであればフィード経由で照合する
	body, contentType, err := a.client.Get(ctx, a.site.URL)
	if err == nil && isFeedContent(contentType, body) {
		return a.matchFeedItems(body, title, author)
	}

	// HTMLサイト: 検索パスパターンを順に試す
	var all []model.RawListing
	var attempts, failures int
	var lastErr error

	for _, term := range searchTerms(title, author) {
		if len(all) >= enoughListings {
			break
		}

		for _, pattern := range customSearchPaths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			searchURL := base + strings.Replace(pattern, "%s", url.QueryEscape(term), 1)

			attempts++
			body, contentType, err := a.client.Get(ctx, searchURL)
			if err != nil {
				failures++
				lastErr = model.NewSourceUnavailableError(a.site.Name, err.Error())
				continue
			}

			// 検索パスがフィードを返すサイトもある
			if isFeedContent(contentType, body) {
				listings, err := a.matchFeedItems(body, title, author)
				if err == nil && len(listings) > 0 {
					all = append(all, listings...)
					break
				}
				continue
			}

			if listings := a.parseHTML(body, title, author); len(listings) > 0 {
				all = append(all, listings...)
				break
			}
		}
	}

	if attempts > 0 && failures == attempts && len(all) == 0 {
		return nil, lastErr
	}

	return dedupeAndRank(all, maxListingsPerSource), nil
}

// matchFeedItems はRSS/Atomフィードのアイテムをあいまい一致でフィルタする。
func (a *CustomSiteAdapter) matchFeedItems(body []byte, title, author string) ([]model.RawListing, error) {
	feed, err := a.feedParser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, model.NewSourceParseFailedError(a.site.Name, err.Error())
	}

	var listings []model.RawListing
	for _, item := range feed.Items {
		itemTitle := a.sanitizer.SanitizeText(item.Title)
		if len([]rune(itemTitle)) < minTitleLength || item.Link == "" {
			continue
		}

		matched, score := match.IsMatch(itemTitle, title, author, match.DefaultThreshold)
		if !matched && score <= looseScoreFloor {
			continue
		}

		listings = append(listings, model.RawListing{
			Title:      itemTitle,
			Price:      extractPrice(itemTitle + " " + item.Description),
			URL:        item.Link,
			Seller:     a.site.Name,
			Condition:  "Bilinmiyor",
			MatchScore: score,
		})
	}

	return dedupeAndRank(listings, maxListingsPerSource), nil
}

// parseHTML は検索結果のHTMLから汎用セレクタでリスティングを抽出する。
func (a *CustomSiteAdapter) parseHTML(body []byte, title, author string) []model.RawListing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		a.client.logger.Warn("カスタムサイトのHTML解析に失敗しました",
			slog.String("site", a.site.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	parser := &catalogParser{
		baseURL:   strings.TrimSuffix(a.site.URL, "/"),
		seller:    a.site.Name,
		selectors: customSelectors,
		sanitizer: a.sanitizer,
	}
	return parser.parse(doc, title, author)
}

// feedContentTypes はフィードとして認識するContent-Type。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes は汎用XMLのContent-Type（ボディ解析で判定する）。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// isFeedContent はContent-Typeとボディの先頭からRSS/Atomフィードかを判定する。
func isFeedContent(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, feedCT := range feedContentTypes {
		if mediaType == feedCT {
			return true
		}
	}

	isXML := false
	for _, xmlCT := range xmlContentTypes {
		if mediaType == xmlCT {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}

	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

var _ Adapter = (*CustomSiteAdapter)(nil)
