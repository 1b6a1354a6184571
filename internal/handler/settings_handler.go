package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
)

// SchedulerRefresher は設定変更をスケジューラに通知するインターフェース。
type SchedulerRefresher interface {
	// Refresh は待機中のタイマーを新しいチェック間隔で再計算させる。
	Refresh()
}

// SettingsHandler はチェック間隔設定のHTTPハンドラー。
type SettingsHandler struct {
	settingsRepo repository.SettingsRepository
	refresher    SchedulerRefresher
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(settingsRepo repository.SettingsRepository, refresher SchedulerRefresher) *SettingsHandler {
	return &SettingsHandler{
		settingsRepo: settingsRepo,
		refresher:    refresher,
	}
}

// settingsResponse は設定のAPIレスポンス。
type settingsResponse struct {
	CheckIntervalHours int       `json:"check_interval_hours"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// updateSettingsRequest は設定更新リクエストのボディ。
type updateSettingsRequest struct {
	CheckIntervalHours int `json:"check_interval_hours"`
}

// GetSettings は現在の設定を取得する。
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.Get(r.Context())
	if err != nil {
		handleServiceError(w, fmt.Errorf("設定の取得に失敗しました: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settingsResponse{
		CheckIntervalHours: settings.CheckIntervalHours,
		UpdatedAt:          settings.UpdatedAt,
	})
}

// UpdateSettings はチェック間隔を更新する。
// PUT /api/settings
//
// 更新後にスケジューラへ変更を通知し、待機中のタイマーを
// 新しい間隔で再計算させる。次のスイープ時刻が即座に変わる。
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if !model.IsValidCheckInterval(req.CheckIntervalHours) {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidCheckIntervalError(req.CheckIntervalHours))
		return
	}

	settings := &model.Settings{
		CheckIntervalHours: req.CheckIntervalHours,
		UpdatedAt:          time.Now(),
	}
	if err := h.settingsRepo.Update(r.Context(), settings); err != nil {
		handleServiceError(w, fmt.Errorf("設定の更新に失敗しました: %w", err))
		return
	}

	if h.refresher != nil {
		h.refresher.Refresh()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settingsResponse{
		CheckIntervalHours: settings.CheckIntervalHours,
		UpdatedAt:          settings.UpdatedAt,
	})
}
