package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookwatch/internal/middleware"
	"github.com/hitoshi/bookwatch/internal/repository"
)

// Scheduler は手動チェック起動と設定変更通知のインターフェース。
// ハンドラーが必要とするスケジューラ操作のみを公開する。
type Scheduler interface {
	CheckTrigger
	SchedulerRefresher
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 書籍
	BookService BookServiceInterface

	// 通知
	NotificationService NotificationServiceInterface

	// 設定
	SettingsRepo repository.SettingsRepository

	// スケジューラ（手動チェック起動・設定変更通知）
	Scheduler Scheduler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Recovery → RateLimit(General)
//
// ヘルスチェック（/health）はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	bookHandler := NewBookHandler(deps.BookService, deps.Scheduler)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	settingsHandler := NewSettingsHandler(deps.SettingsRepo, deps.Scheduler)

	// ヘルスチェック（レート制限の外）
	r.Get("/health", HealthCheck)

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 書籍管理
		r.Route("/api/books", func(r chi.Router) {
			r.Post("/", bookHandler.CreateBook)
			r.Get("/", bookHandler.ListBooks)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", bookHandler.GetBook)
				r.Delete("/", bookHandler.DeleteBook)

				// POST /api/books/{id}/check - 手動チェック（専用レート制限を追加）
				r.With(deps.RateLimiter.CheckTriggerMiddleware()).Post("/check", bookHandler.TriggerCheck)

				// GET /api/books/{id}/listings - 発見済みリスティング一覧
				r.Get("/listings", bookHandler.ListListings)

				// カスタムサイト管理
				r.Post("/sites", bookHandler.AddSite)
				r.Delete("/sites", bookHandler.RemoveSite)
			})
		})

		// 通知管理
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Put("/{id}/read", notificationHandler.MarkRead)
		})

		// 設定管理
		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.GetSettings)
			r.Put("/", settingsHandler.UpdateSettings)
		})
	})

	return r
}

// HealthCheck はヘルスチェックエンドポイント。
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
