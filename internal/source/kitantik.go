package source

import (
	"context"
	"net/url"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

const kitantikBaseURL = "https://www.kitantik.com"

// KitantikAdapter はkitantik.com（中古書籍マーケットプレイス）の検索アダプタ。
type KitantikAdapter struct {
	client *Client
	parser *catalogParser
}

// NewKitantikAdapter はKitantikAdapterの新しいインスタンスを生成する。
func NewKitantikAdapter(client *Client, sanitizer security.ContentSanitizerService) *KitantikAdapter {
	return &KitantikAdapter{
		client: client,
		parser: &catalogParser{
			baseURL: kitantikBaseURL,
			seller:  "Kitantik",
			selectors: []string{
				"div.product",
				`div[class*="book"]`,
				`div[class*="item"]`,
				"div.card",
				`div[class*="result"]`,
				`a[href*="/kitap/"]`,
			},
			sanitizer: sanitizer,
		},
	}
}

// Name はソースの識別名を返す。
func (a *KitantikAdapter) Name() string {
	return model.CatalogKitantik
}

// FetchListings は書籍を検索し、一致したリスティングを返す。
func (a *KitantikAdapter) FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error) {
	return fetchCatalog(ctx, a.client, a.parser, a.searchURLs, title, author)
}

// searchURLs は検索語に対するURLパターンを優先順に返す。
// サイト改修で検索パスが変わった場合に備えて旧パスも試す。
func (a *KitantikAdapter) searchURLs(term string) []string {
	q := url.QueryEscape(term)
	return []string{
		kitantikBaseURL + "/ara?q=" + q,
		kitantikBaseURL + "/search?q=" + q,
		kitantikBaseURL + "/arama/" + url.PathEscape(term),
	}
}

var _ Adapter = (*KitantikAdapter)(nil)
