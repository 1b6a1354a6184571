package notify

import (
	"context"
	"fmt"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
)

// defaultNotificationLimit は通知一覧のデフォルト取得件数。
const defaultNotificationLimit = 50

// maxNotificationLimit は通知一覧の取得件数上限。
const maxNotificationLimit = 200

// NotificationService は通知の取得と既読管理を行うサービス層。
// 通知は追記専用で、変更できるのは既読フラグ（未読→既読、一方向）のみ。
type NotificationService struct {
	notificationRepo repository.NotificationRepository
}

// NewNotificationService はNotificationServiceの新しいインスタンスを生成する。
func NewNotificationService(notificationRepo repository.NotificationRepository) *NotificationService {
	return &NotificationService{notificationRepo: notificationRepo}
}

// ListNotifications は通知を作成日時降順で返す。
// limitが0以下の場合はデフォルト件数、上限を超える場合は上限に丸める。
func (s *NotificationService) ListNotifications(ctx context.Context, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.notificationRepo.List(ctx, limit)
}

// MarkRead は通知を既読にする。既に既読の通知に対しても冪等に成功する。
func (s *NotificationService) MarkRead(ctx context.Context, notificationID string) (*model.Notification, error) {
	n, err := s.notificationRepo.FindByID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	if n == nil {
		return nil, model.NewNotificationNotFoundError(notificationID)
	}

	if n.Read {
		return n, nil
	}

	if err := s.notificationRepo.MarkRead(ctx, notificationID); err != nil {
		return nil, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}

	n.Read = true
	return n, nil
}
