package source

import (
	"context"
	"net/url"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

const halkKitabeviBaseURL = "https://www.halkkitabevi.com"

// HalkKitabeviAdapter はhalkkitabevi.com（書店カタログ）の検索アダプタ。
type HalkKitabeviAdapter struct {
	client *Client
	parser *catalogParser
}

// NewHalkKitabeviAdapter はHalkKitabeviAdapterの新しいインスタンスを生成する。
func NewHalkKitabeviAdapter(client *Client, sanitizer security.ContentSanitizerService) *HalkKitabeviAdapter {
	return &HalkKitabeviAdapter{
		client: client,
		parser: &catalogParser{
			baseURL: halkKitabeviBaseURL,
			seller:  "Halk Kitabevi",
			selectors: []string{
				"div.product",
				`div[class*="book"]`,
				`div[class*="item"]`,
				"div.card",
				`a[href*="/kitap"]`,
			},
			sanitizer: sanitizer,
		},
	}
}

// Name はソースの識別名を返す。
func (a *HalkKitabeviAdapter) Name() string {
	return model.CatalogHalkKitabevi
}

// FetchListings は書籍を検索し、一致したリスティングを返す。
func (a *HalkKitabeviAdapter) FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error) {
	return fetchCatalog(ctx, a.client, a.parser, a.searchURLs, title, author)
}

// searchURLs は検索語に対するURLパターンを優先順に返す。
func (a *HalkKitabeviAdapter) searchURLs(term string) []string {
	q := url.QueryEscape(term)
	return []string{
		halkKitabeviBaseURL + "/ara?q=" + q,
		halkKitabeviBaseURL + "/search?query=" + q,
		halkKitabeviBaseURL + "/arama/" + url.PathEscape(term),
	}
}

var _ Adapter = (*HalkKitabeviAdapter)(nil)
