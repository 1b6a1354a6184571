// Package notify はスクレイプ結果の差分検出と通知生成を提供する。
// フィンガープリント集合との突き合わせにより、既知のリスティングを
// 再発見しても通知が重複しないこと（exactly-once）を保証する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bookwatch/internal/fingerprint"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
)

// notifyScoreThreshold は通知を生成する一致スコアの下限。
// 低スコアの候補はリスティングとして保存はするが通知しない。
const notifyScoreThreshold = 0.5

// Engine はスクレイプ結果をフィンガープリント集合と突き合わせ、
// 新規リスティングの保存と通知の生成を行う。
type Engine struct {
	siteRepo         repository.SiteRepository
	listingRepo      repository.ListingRepository
	notificationRepo repository.NotificationRepository
	logger           *slog.Logger

	// now はテスト用に差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	siteRepo repository.SiteRepository,
	listingRepo repository.ListingRepository,
	notificationRepo repository.NotificationRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		siteRepo:         siteRepo,
		listingRepo:      listingRepo,
		notificationRepo: notificationRepo,
		logger:           logger,
		now:              time.Now,
	}
}

// Reconcile はスクレイプ結果をサイトの既知フィンガープリント集合と照合し、
// 未知のリスティングを保存して通知を生成する。
// 新規リスティング数と作成した通知数を返す。
//
// フィンガープリントはリスティングの保存と通知の生成が成功した後にのみ
// 集合へ追加される。途中で失敗した場合、そのリスティングは未知のまま残り、
// 次回の実行で再試行される。同一バッチ内の重複も1件として扱う。
func (e *Engine) Reconcile(ctx context.Context, book model.Book, site model.Site, raws []model.RawListing) (int, int, error) {
	known, err := e.siteRepo.ListFingerprints(ctx, site.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("既知フィンガープリントの取得に失敗しました: %w", err)
	}

	var confirmed []string
	newCount := 0
	notified := 0
	seenInBatch := make(map[string]struct{}, len(raws))

	for _, raw := range raws {
		fp := fingerprint.Key(raw.Title, raw.Price, raw.URL)

		if _, ok := known[fp]; ok {
			continue
		}
		if _, ok := seenInBatch[fp]; ok {
			continue
		}
		seenInBatch[fp] = struct{}{}

		listing := &model.Listing{
			ID:         uuid.NewString(),
			BookID:     book.ID,
			SiteID:     site.ID,
			SiteName:   site.Name,
			Title:      raw.Title,
			Price:      raw.Price,
			URL:        raw.URL,
			Seller:     raw.Seller,
			Condition:  raw.Condition,
			MatchScore: raw.MatchScore,
			FoundAt:    e.now(),
		}

		if err := e.listingRepo.Create(ctx, listing); err != nil {
			if flushErr := e.flush(ctx, site.ID, confirmed); flushErr != nil {
				e.logger.Error("確定済みフィンガープリントの保存に失敗しました",
					slog.String("site_id", site.ID),
					slog.String("error", flushErr.Error()),
				)
			}
			return newCount, notified, fmt.Errorf("リスティングの保存に失敗しました: %w", err)
		}

		if raw.MatchScore > notifyScoreThreshold {
			notification := &model.Notification{
				ID:         uuid.NewString(),
				BookID:     book.ID,
				BookTitle:  book.Title,
				Message:    buildMessage(raw),
				ListingURL: raw.URL,
				CreatedAt:  e.now(),
			}
			if err := e.notificationRepo.Create(ctx, notification); err != nil {
				if flushErr := e.flush(ctx, site.ID, confirmed); flushErr != nil {
					e.logger.Error("確定済みフィンガープリントの保存に失敗しました",
						slog.String("site_id", site.ID),
						slog.String("error", flushErr.Error()),
					)
				}
				return newCount, notified, fmt.Errorf("通知の作成に失敗しました: %w", err)
			}

			e.logger.Info("新規リスティングの通知を作成しました",
				slog.String("book_id", book.ID),
				slog.String("book_title", book.Title),
				slog.String("listing_title", raw.Title),
				slog.Float64("match_score", raw.MatchScore),
			)
			notified++
		}

		confirmed = append(confirmed, fp)
		newCount++
	}

	if err := e.flush(ctx, site.ID, confirmed); err != nil {
		return newCount, notified, fmt.Errorf("フィンガープリントの保存に失敗しました: %w", err)
	}

	return newCount, notified, nil
}

// flush は確定済みフィンガープリントを集合へ追加する。
func (e *Engine) flush(ctx context.Context, siteID string, fps []string) error {
	if len(fps) == 0 {
		return nil
	}
	return e.siteRepo.AddFingerprints(ctx, siteID, fps)
}

// buildMessage は通知メッセージを構築する。
func buildMessage(raw model.RawListing) string {
	return fmt.Sprintf("Yeni eşleşme bulundu: %s - %s (Eşleşme: %d%%)",
		raw.Title, raw.Price, int(raw.MatchScore*100))
}
