// Package check は書籍のバックグラウンドチェック処理を提供する。
// スケジューラ、チェッカー、書籍単位の排他制御を含む。
package check

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/bookwatch/internal/metrics"
	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
	"github.com/hitoshi/bookwatch/internal/source"
)

// ListingReconciler はスクレイプ結果の差分検出と通知生成のインターフェース。
type ListingReconciler interface {
	Reconcile(ctx context.Context, book model.Book, site model.Site, raws []model.RawListing) (int, int, error)
}

// AdapterFactory はSiteに対応する検索アダプタを生成する。
type AdapterFactory func(site model.Site) (source.Adapter, error)

// Checker は1冊の書籍の全ソースをチェックする。
// 各ソースのフェッチはsemaphoreパターンで並列実行され、
// 1ソースの失敗が他のソースの結果に影響しないよう隔離される。
type Checker struct {
	bookRepo   repository.BookRepository
	siteRepo   repository.SiteRepository
	reconciler ListingReconciler
	newAdapter AdapterFactory
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	fetchTimeout   time.Duration
	maxConcurrency int

	// now はテスト用に差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// NewChecker はCheckerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewChecker(
	bookRepo repository.BookRepository,
	siteRepo repository.SiteRepository,
	reconciler ListingReconciler,
	newAdapter AdapterFactory,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	maxConcurrency int,
) *Checker {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Checker{
		bookRepo:       bookRepo,
		siteRepo:       siteRepo,
		reconciler:     reconciler,
		newAdapter:     newAdapter,
		collector:      collector,
		logger:         logger,
		fetchTimeout:   fetchTimeout,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// CheckBook は書籍の全ソースをチェックし、新規リスティングを通知に反映する。
// ソース単位の失敗は隔離され、エラーにはならない。
// 書籍のlast_checkedは結果にかかわらず必ず更新される。
func (c *Checker) CheckBook(ctx context.Context, book *model.Book) error {
	start := c.now()

	sites, err := c.siteRepo.ListByBookID(ctx, book.ID)
	if err != nil {
		c.collector.RecordCheckFailure()
		return err
	}

	targets := c.selectTargets(book, sites)
	if len(targets) == 0 {
		c.logger.Info("チェック対象のソースがありません",
			slog.String("book_id", book.ID),
			slog.String("book_title", book.Title),
		)
		return c.finishCheck(ctx, book, 0, 0)
	}

	c.logger.Info("書籍チェックを開始します",
		slog.String("book_id", book.ID),
		slog.String("book_title", book.Title),
		slog.Int("site_count", len(targets)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup
	var failures, totalNew atomic.Int64

	for _, site := range targets {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(s *model.Site) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			newCount, ok := c.checkSite(ctx, book, s)
			totalNew.Add(int64(newCount))
			if !ok {
				failures.Add(1)
			}
		}(site)
	}

	wg.Wait()

	duration := time.Since(start)
	c.logger.Info("書籍チェックが完了しました",
		slog.String("book_id", book.ID),
		slog.String("book_title", book.Title),
		slog.Int("site_count", len(targets)),
		slog.Int64("new_listings", totalNew.Load()),
		slog.Int64("failed_sources", failures.Load()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return c.finishCheck(ctx, book, len(targets), int(failures.Load()))
}

// selectTargets はチェック対象のソースを選別する。
// 無効化されたサイトと、検索フォールバックが無効な書籍の検索ソースを除外する。
func (c *Checker) selectTargets(book *model.Book, sites []*model.Site) []*model.Site {
	targets := make([]*model.Site, 0, len(sites))
	for _, site := range sites {
		if !site.Enabled {
			continue
		}
		if site.Kind == model.SiteKindSearch && !book.EnableSearchFallback {
			continue
		}
		targets = append(targets, site)
	}
	return targets
}

// checkSite は1ソースのフェッチと差分反映を行い、新規リスティング数と成否を返す。
// 成否にかかわらずサイトのlast_checkは更新される。
func (c *Checker) checkSite(ctx context.Context, book *model.Book, site *model.Site) (int, bool) {
	adapter, err := c.newAdapter(*site)
	if err != nil {
		c.logger.Error("アダプタの生成に失敗しました",
			slog.String("book_id", book.ID),
			slog.String("site_name", site.Name),
			slog.String("error", err.Error()),
		)
		c.collector.RecordSourceFailure(site.Name, metrics.ReasonUnavailable)
		c.updateSiteState(ctx, site, 0)
		return 0, false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	fetchStart := time.Now()
	raws, err := adapter.FetchListings(fetchCtx, book.Title, book.Author)
	c.collector.RecordFetchLatency(site.Name, time.Since(fetchStart))

	if err != nil {
		c.logger.Warn("ソースのフェッチに失敗しました",
			slog.String("book_id", book.ID),
			slog.String("book_title", book.Title),
			slog.String("site_name", site.Name),
			slog.String("error", err.Error()),
		)
		c.collector.RecordSourceFailure(site.Name, failureReason(err))
		c.updateSiteState(ctx, site, 0)
		return 0, false
	}

	newCount, notified, err := c.reconciler.Reconcile(ctx, *book, *site, raws)
	c.collector.RecordListingsFound(site.Name, newCount)
	c.collector.RecordNotificationsCreated(notified)

	if err != nil {
		c.logger.Error("差分反映に失敗しました",
			slog.String("book_id", book.ID),
			slog.String("site_name", site.Name),
			slog.String("error", err.Error()),
		)
		c.collector.RecordSourceFailure(site.Name, metrics.ReasonReconcile)
		c.updateSiteState(ctx, site, newCount)
		return newCount, false
	}

	c.updateSiteState(ctx, site, newCount)
	return newCount, true
}

// failureReason はフェッチエラーをメトリクスの失敗理由ラベルに分類する。
// アダプタが解析失敗として報告したエラーはparse、それ以外は到達不能として扱う。
func failureReason(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSourceParseFailed {
		return metrics.ReasonParse
	}
	return metrics.ReasonUnavailable
}

// updateSiteState はサイトのチェック状態を更新する。
func (c *Checker) updateSiteState(ctx context.Context, site *model.Site, newListings int) {
	if err := c.siteRepo.UpdateCheckState(ctx, site.ID, c.now(), newListings); err != nil {
		c.logger.Error("サイト状態の更新に失敗しました",
			slog.String("site_id", site.ID),
			slog.String("site_name", site.Name),
			slog.String("error", err.Error()),
		)
	}
}

// finishCheck は書籍のlast_checkedを更新し、チェック結果のメトリクスを記録する。
// 全ソースが失敗した場合のみ失敗として計上する。
func (c *Checker) finishCheck(ctx context.Context, book *model.Book, targets, failed int) error {
	if err := c.bookRepo.UpdateLastChecked(ctx, book.ID, c.now()); err != nil {
		c.logger.Error("書籍のlast_checked更新に失敗しました",
			slog.String("book_id", book.ID),
			slog.String("error", err.Error()),
		)
	}

	if targets > 0 && failed == targets {
		c.collector.RecordCheckFailure()
	} else {
		c.collector.RecordCheckSuccess()
	}
	return nil
}
