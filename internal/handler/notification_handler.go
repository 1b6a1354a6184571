package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookwatch/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	// ListNotifications は通知を作成日時降順で返す。
	ListNotifications(ctx context.Context, limit int) ([]*model.Notification, error)
	// MarkRead は通知を既読にする。既読済みでも冪等に成功する。
	MarkRead(ctx context.Context, notificationID string) (*model.Notification, error)
}

// NotificationHandler は通知管理のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// notificationResponse は通知情報のAPIレスポンス。
type notificationResponse struct {
	ID         string    `json:"id"`
	BookID     string    `json:"book_id"`
	BookTitle  string    `json:"book_title"`
	Message    string    `json:"message"`
	ListingURL string    `json:"listing_url"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListNotifications は通知一覧を取得する。
// GET /api/notifications?limit=50
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "limitには正の整数を指定してください。",
			})
			return
		}
		limit = parsed
	}

	notifications, err := h.service.ListNotifications(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, toNotificationResponse(n))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MarkRead は通知を既読にする。
// PUT /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "id")

	n, err := h.service.MarkRead(r.Context(), notificationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNotificationResponse(n))
}

// toNotificationResponse はmodel.NotificationからAPIレスポンスに変換する。
func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		BookID:     n.BookID,
		BookTitle:  n.BookTitle,
		Message:    n.Message,
		ListingURL: n.ListingURL,
		Read:       n.Read,
		CreatedAt:  n.CreatedAt,
	}
}
