package source

import (
	"context"
	"net/url"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/security"
)

const nadirKitapBaseURL = "https://www.nadirkitap.com"

// NadirKitapAdapter はnadirkitap.com（中古書籍カタログ）の検索アダプタ。
type NadirKitapAdapter struct {
	client *Client
	parser *catalogParser
}

// NewNadirKitapAdapter はNadirKitapAdapterの新しいインスタンスを生成する。
func NewNadirKitapAdapter(client *Client, sanitizer security.ContentSanitizerService) *NadirKitapAdapter {
	return &NadirKitapAdapter{
		client: client,
		parser: &catalogParser{
			baseURL: nadirKitapBaseURL,
			seller:  "Nadir Kitap",
			selectors: []string{
				"div.kitap",
				"tr.kitap",
				`div[class*="book"]`,
				`div[class*="item"]`,
				"table tr",
				"div.product",
			},
			sanitizer: sanitizer,
		},
	}
}

// Name はソースの識別名を返す。
func (a *NadirKitapAdapter) Name() string {
	return model.CatalogNadirKitap
}

// FetchListings は書籍を検索し、一致したリスティングを返す。
// 検索結果の並び順を変えた複数のURLパターンを試す。
func (a *NadirKitapAdapter) FetchListings(ctx context.Context, title, author string) ([]model.RawListing, error) {
	return fetchCatalog(ctx, a.client, a.parser, a.searchURLs, title, author)
}

// searchURLs は検索語に対するURLパターンを優先順に返す。
func (a *NadirKitapAdapter) searchURLs(term string) []string {
	q := url.QueryEscape(term)
	return []string{
		nadirKitapBaseURL + "/kitapara_sonuc.php?kelime=" + q,
		nadirKitapBaseURL + "/kitapara_sonuc.php?kelime=" + q + "&siralama=yenieklenenler",
		nadirKitapBaseURL + "/kitapara_sonuc.php?kelime=" + q + "&siralama=fiyatartan",
	}
}

var _ Adapter = (*NadirKitapAdapter)(nil)
