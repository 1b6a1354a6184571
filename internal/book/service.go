// Package book は書籍登録・管理のドメインロジックを提供する。
package book

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
	"github.com/hitoshi/bookwatch/internal/security"
)

// CreateBookInput は書籍登録の入力。
// Catalogsはチェック対象にする固定カタログの選択で、省略時は全カタログを登録する。
type CreateBookInput struct {
	Title                string
	Author               string
	Catalogs             []string
	EnableSearchFallback bool
	CustomSiteURLs       []string
}

// BookService は書籍とチェック対象サイトの管理を行うサービス層。
// 登録フロー: 入力検証 → カスタムURLのSSRF検証 → 書籍保存 → サイト一括生成
type BookService struct {
	bookRepo    repository.BookRepository
	siteRepo    repository.SiteRepository
	listingRepo repository.ListingRepository
	ssrfGuard   security.SSRFGuardService
}

// NewBookService はBookServiceの新しいインスタンスを生成する。
func NewBookService(
	bookRepo repository.BookRepository,
	siteRepo repository.SiteRepository,
	listingRepo repository.ListingRepository,
	ssrfGuard security.SSRFGuardService,
) *BookService {
	return &BookService{
		bookRepo:    bookRepo,
		siteRepo:    siteRepo,
		listingRepo: listingRepo,
		ssrfGuard:   ssrfGuard,
	}
}

// CreateBook は書籍を登録し、チェック対象サイトを一括生成する。
// 選択された固定カタログ（省略時は全カタログ）が生成され、検索フォールバックが
// 有効な場合は検索サイト、カスタムURLが指定された場合はカスタムサイトが追加される。
func (s *BookService) CreateBook(ctx context.Context, input CreateBookInput) (*model.Book, []*model.Site, error) {
	title := strings.TrimSpace(input.Title)
	author := strings.TrimSpace(input.Author)

	if title == "" {
		return nil, nil, model.NewInvalidBookError("タイトルが空です")
	}
	if author == "" {
		return nil, nil, model.NewInvalidBookError("著者が空です")
	}

	// カタログ選択とカスタムURLは書籍保存前にまとめて検証する
	catalogs, err := normalizeCatalogs(input.Catalogs)
	if err != nil {
		return nil, nil, err
	}

	customURLs := make([]string, 0, len(input.CustomSiteURLs))
	for _, raw := range input.CustomSiteURLs {
		normalized, err := s.validateCustomURL(raw)
		if err != nil {
			return nil, nil, err
		}
		customURLs = append(customURLs, normalized)
	}

	now := time.Now()
	book := &model.Book{
		ID:                   uuid.New().String(),
		Title:                title,
		Author:               author,
		IsActive:             true,
		EnableSearchFallback: input.EnableSearchFallback,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.bookRepo.Create(ctx, book); err != nil {
		return nil, nil, fmt.Errorf("書籍の保存に失敗しました: %w", err)
	}

	sites := s.buildSites(book, catalogs, customURLs, now)
	if err := s.siteRepo.CreateAll(ctx, sites); err != nil {
		return nil, nil, fmt.Errorf("サイトの生成に失敗しました: %w", err)
	}

	slog.Info("書籍を登録しました",
		slog.String("book_id", book.ID),
		slog.String("book_title", book.Title),
		slog.Int("site_count", len(sites)),
	)

	return book, sites, nil
}

// normalizeCatalogs はカタログ選択を検証し、重複を除去して返す。
// 未指定の場合は全固定カタログを対象とする。
func normalizeCatalogs(names []string) ([]string, error) {
	if len(names) == 0 {
		return model.FixedCatalogs, nil
	}

	seen := make(map[string]struct{}, len(names))
	catalogs := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if !model.IsFixedCatalog(name) {
			return nil, model.NewInvalidBookError(fmt.Sprintf("不明なカタログです: %s", raw))
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		catalogs = append(catalogs, name)
	}
	return catalogs, nil
}

// buildSites は書籍に紐付くチェック対象サイトの初期集合を構築する。
func (s *BookService) buildSites(book *model.Book, catalogs, customURLs []string, now time.Time) []*model.Site {
	sites := make([]*model.Site, 0, len(catalogs)+len(customURLs)+1)

	for _, catalog := range catalogs {
		sites = append(sites, &model.Site{
			ID:        uuid.New().String(),
			BookID:    book.ID,
			Kind:      model.SiteKindCatalog,
			Name:      catalog,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if book.EnableSearchFallback {
		sites = append(sites, &model.Site{
			ID:        uuid.New().String(),
			BookID:    book.ID,
			Kind:      model.SiteKindSearch,
			Name:      model.SearchFallbackName,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	for _, u := range customURLs {
		sites = append(sites, &model.Site{
			ID:        uuid.New().String(),
			BookID:    book.ID,
			Kind:      model.SiteKindCustom,
			Name:      siteNameFromURL(u),
			URL:       u,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return sites
}

// ListBooks は全書籍を作成日時降順で返す。
func (s *BookService) ListBooks(ctx context.Context) ([]*model.Book, error) {
	return s.bookRepo.List(ctx)
}

// GetBook は指定IDの書籍を取得する。
func (s *BookService) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := s.bookRepo.FindByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}
	return book, nil
}

// DeleteBook は書籍を削除する。
// 関連するサイト・フィンガープリント・リスティングも削除されるが、
// 通知は監査・履歴用に保持される。
func (s *BookService) DeleteBook(ctx context.Context, bookID string) error {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	if err := s.bookRepo.DeleteByID(ctx, book.ID); err != nil {
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}

	slog.Info("書籍を削除しました",
		slog.String("book_id", book.ID),
		slog.String("book_title", book.Title),
	)
	return nil
}

// ListSites は書籍に紐付く全サイトを返す。
func (s *BookService) ListSites(ctx context.Context, bookID string) ([]*model.Site, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.siteRepo.ListByBookID(ctx, bookID)
}

// ListListings は書籍の発見済みリスティングをfound_at降順で返す。
func (s *BookService) ListListings(ctx context.Context, bookID string) ([]*model.Listing, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.listingRepo.ListByBookID(ctx, bookID)
}

// AddCustomSite は書籍にカスタムサイトを追加する。
// フロー: 書籍の存在確認 → URL検証（形式 + SSRF） → 重複チェック → 保存
func (s *BookService) AddCustomSite(ctx context.Context, bookID, rawURL string) (*model.Site, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	normalized, err := s.validateCustomURL(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.siteRepo.FindByBookAndURL(ctx, book.ID, normalized)
	if err != nil {
		return nil, fmt.Errorf("サイトの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSiteError(normalized)
	}

	now := time.Now()
	site := &model.Site{
		ID:        uuid.New().String(),
		BookID:    book.ID,
		Kind:      model.SiteKindCustom,
		Name:      siteNameFromURL(normalized),
		URL:       normalized,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.siteRepo.CreateAll(ctx, []*model.Site{site}); err != nil {
		return nil, fmt.Errorf("サイトの保存に失敗しました: %w", err)
	}

	slog.Info("カスタムサイトを追加しました",
		slog.String("book_id", book.ID),
		slog.String("site_url", normalized),
	)
	return site, nil
}

// RemoveCustomSite は書籍からカスタムサイトを削除する。
// フィンガープリント履歴も同時に削除されるため、同じURLを再登録すると
// 既存のリスティングも新規として再発見される。
func (s *BookService) RemoveCustomSite(ctx context.Context, bookID, rawURL string) error {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	site, err := s.siteRepo.FindByBookAndURL(ctx, book.ID, strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("サイトの検索に失敗しました: %w", err)
	}
	if site == nil {
		return model.NewSiteNotFoundError(rawURL)
	}

	if err := s.siteRepo.DeleteByID(ctx, site.ID); err != nil {
		return fmt.Errorf("サイトの削除に失敗しました: %w", err)
	}

	slog.Info("カスタムサイトを削除しました",
		slog.String("book_id", book.ID),
		slog.String("site_url", site.URL),
	)
	return nil
}

// validateCustomURL はカスタムサイトURLの形式とSSRF安全性を検証し、
// 正規化したURLを返す。
func (s *BookService) validateCustomURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", model.NewInvalidURLError("URLが空です")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", model.NewInvalidURLError(trimmed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", model.NewInvalidURLError(trimmed)
	}
	if parsed.Hostname() == "" {
		return "", model.NewInvalidURLError(trimmed)
	}

	if err := s.ssrfGuard.ValidateURL(trimmed); err != nil {
		slog.Warn("カスタムサイトURLがSSRF検証でブロックされました",
			slog.String("url", trimmed),
			slog.String("error", err.Error()),
		)
		return "", model.NewSSRFBlockedError()
	}

	return trimmed, nil
}

// siteNameFromURL はURLのホスト名からサイト表示名を導出する。
func siteNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
