// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookwatch/internal/book"
	"github.com/hitoshi/bookwatch/internal/model"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	// CreateBook は書籍を登録し、チェック対象サイトを一括生成する。
	CreateBook(ctx context.Context, input book.CreateBookInput) (*model.Book, []*model.Site, error)
	// ListBooks は全書籍を作成日時降順で返す。
	ListBooks(ctx context.Context) ([]*model.Book, error)
	// GetBook は指定IDの書籍を取得する。
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
	// DeleteBook は書籍を削除する。
	DeleteBook(ctx context.Context, bookID string) error
	// ListSites は書籍に紐付く全サイトを返す。
	ListSites(ctx context.Context, bookID string) ([]*model.Site, error)
	// ListListings は書籍の発見済みリスティングを返す。
	ListListings(ctx context.Context, bookID string) ([]*model.Listing, error)
	// AddCustomSite は書籍にカスタムサイトを追加する。
	AddCustomSite(ctx context.Context, bookID, rawURL string) (*model.Site, error)
	// RemoveCustomSite は書籍からカスタムサイトを削除する。
	RemoveCustomSite(ctx context.Context, bookID, rawURL string) error
}

// CheckTrigger は手動チェックの起動インターフェース。
// チェックはHTTPリクエストのライフサイクルから切り離されて非同期に実行される。
type CheckTrigger interface {
	// TriggerCheck は書籍のチェックを非同期に開始する。
	// 既に実行中の場合は開始せずfalseを返す。
	TriggerCheck(book *model.Book) bool
}

// BookHandler は書籍管理のHTTPハンドラー。
type BookHandler struct {
	service BookServiceInterface
	trigger CheckTrigger
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, trigger CheckTrigger) *BookHandler {
	return &BookHandler{
		service: service,
		trigger: trigger,
	}
}

// createBookRequest は書籍登録リクエストのボディ。
// catalogsは省略可能で、省略時は全固定カタログが登録される。
type createBookRequest struct {
	Title                string   `json:"title"`
	Author               string   `json:"author"`
	Catalogs             []string `json:"catalogs"`
	EnableSearchFallback bool     `json:"enable_search_fallback"`
	CustomSiteURLs       []string `json:"custom_site_urls"`
}

// addSiteRequest はカスタムサイト追加リクエストのボディ。
type addSiteRequest struct {
	URL string `json:"url"`
}

// removeSiteRequest はカスタムサイト削除リクエストのボディ。
type removeSiteRequest struct {
	URL string `json:"url"`
}

// bookResponse は書籍情報のAPIレスポンス。
type bookResponse struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Author               string         `json:"author"`
	IsActive             bool           `json:"is_active"`
	EnableSearchFallback bool           `json:"enable_search_fallback"`
	LastChecked          *time.Time     `json:"last_checked"`
	CreatedAt            time.Time      `json:"created_at"`
	Sites                []siteResponse `json:"sites,omitempty"`
}

// siteResponse はサイト情報のAPIレスポンス。
type siteResponse struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	URL           string     `json:"url,omitempty"`
	Enabled       bool       `json:"enabled"`
	LastCheck     *time.Time `json:"last_check"`
	ListingsFound int        `json:"listings_found"`
}

// listingResponse は発見済みリスティングのAPIレスポンス。
type listingResponse struct {
	ID         string    `json:"id"`
	SiteName   string    `json:"site_name"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	URL        string    `json:"url"`
	Seller     string    `json:"seller"`
	Condition  string    `json:"condition"`
	MatchScore float64   `json:"match_score"`
	FoundAt    time.Time `json:"found_at"`
}

// checkResponse は手動チェック起動のAPIレスポンス。
type checkResponse struct {
	Status string `json:"status"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateBook は書籍登録を処理する。
// POST /api/books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	b, sites, err := h.service.CreateBook(r.Context(), book.CreateBookInput{
		Title:                req.Title,
		Author:               req.Author,
		Catalogs:             req.Catalogs,
		EnableSearchFallback: req.EnableSearchFallback,
		CustomSiteURLs:       req.CustomSiteURLs,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toBookResponse(b, sites))
}

// ListBooks は書籍一覧を取得する。
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b, nil))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetBook は書籍詳細をサイト一覧付きで取得する。
// GET /api/books/:id
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	b, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sites, err := h.service.ListSites(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toBookResponse(b, sites))
}

// DeleteBook は書籍を削除する。
// DELETE /api/books/:id
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	if err := h.service.DeleteBook(r.Context(), bookID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerCheck は書籍の手動チェックを起動する。
// POST /api/books/:id/check
//
// チェックは非同期に実行され、202 Acceptedを即座に返す。
// 既に同じ書籍のチェックが実行中の場合はstatus=already_runningを返す。
func (h *BookHandler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	b, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := "started"
	if !h.trigger.TriggerCheck(b) {
		status = "already_running"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(checkResponse{Status: status})
}

// ListListings は書籍の発見済みリスティング一覧を取得する。
// GET /api/books/:id/listings
func (h *BookHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	listings, err := h.service.ListListings(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		resp = append(resp, listingResponse{
			ID:         l.ID,
			SiteName:   l.SiteName,
			Title:      l.Title,
			Price:      l.Price,
			URL:        l.URL,
			Seller:     l.Seller,
			Condition:  l.Condition,
			MatchScore: l.MatchScore,
			FoundAt:    l.FoundAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// AddSite は書籍にカスタムサイトを追加する。
// POST /api/books/:id/sites
func (h *BookHandler) AddSite(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	var req addSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	site, err := h.service.AddCustomSite(r.Context(), bookID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSiteResponse(site))
}

// RemoveSite は書籍からカスタムサイトを削除する。
// DELETE /api/books/:id/sites
func (h *BookHandler) RemoveSite(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	var req removeSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	if err := h.service.RemoveCustomSite(r.Context(), bookID, req.URL); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toBookResponse はmodel.BookからAPIレスポンスに変換する。
func toBookResponse(b *model.Book, sites []*model.Site) bookResponse {
	resp := bookResponse{
		ID:                   b.ID,
		Title:                b.Title,
		Author:               b.Author,
		IsActive:             b.IsActive,
		EnableSearchFallback: b.EnableSearchFallback,
		LastChecked:          b.LastChecked,
		CreatedAt:            b.CreatedAt,
	}
	for _, site := range sites {
		resp.Sites = append(resp.Sites, toSiteResponse(site))
	}
	return resp
}

// toSiteResponse はmodel.SiteからAPIレスポンスに変換する。
func toSiteResponse(site *model.Site) siteResponse {
	return siteResponse{
		ID:            site.ID,
		Kind:          string(site.Kind),
		Name:          site.Name,
		URL:           site.URL,
		Enabled:       site.Enabled,
		LastCheck:     site.LastCheck,
		ListingsFound: site.ListingsFound,
	}
}

// invalidRequestError はリクエストボディ解析失敗のエラーを生成する。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeBookNotFound, model.ErrCodeNotificationNotFound, model.ErrCodeSiteNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidBook, model.ErrCodeInvalidURL, model.ErrCodeInvalidCheckInterval:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeDuplicateSite:
		return http.StatusConflict
	case model.ErrCodeSourceUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeSourceParseFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
