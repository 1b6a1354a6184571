package source

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/bookwatch/internal/model"
)

// enoughListings は追加の検索戦略を打ち切る件数。
// 最初の戦略でこれだけ集まれば後続の検索リクエストを省略する。
const enoughListings = 3

// fetchCatalog は検索語の候補を順に試し、カタログからリスティングを収集する。
// 各検索語に対してurlsForが返すURLパターンを順に取得し、
// 最初に解析結果が得られたパターンでその検索語を打ち切る。
// 全リクエストが失敗した場合のみエラーを返す。部分的な失敗は警告ログに留める。
func fetchCatalog(
	ctx context.Context,
	client *Client,
	parser *catalogParser,
	urlsFor func(term string) []string,
	title, author string,
) ([]model.RawListing, error) {
	var all []model.RawListing
	var attempts, failures int
	var lastErr error

	for _, term := range searchTerms(title, author) {
		if len(all) >= enoughListings {
			break
		}

		for _, searchURL := range urlsFor(term) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			attempts++
			body, _, err := client.Get(ctx, searchURL)
			if err != nil {
				failures++
				lastErr = model.NewSourceUnavailableError(parser.seller, err.Error())
				client.logger.Warn("検索結果ページの取得に失敗しました",
					slog.String("seller", parser.seller),
					slog.String("url", searchURL),
					slog.String("error", err.Error()),
				)
				continue
			}

			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if err != nil {
				failures++
				lastErr = model.NewSourceParseFailedError(parser.seller, err.Error())
				client.logger.Warn("検索結果ページの解析に失敗しました",
					slog.String("seller", parser.seller),
					slog.String("url", searchURL),
					slog.String("error", err.Error()),
				)
				continue
			}

			if listings := parser.parse(doc, title, author); len(listings) > 0 {
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
