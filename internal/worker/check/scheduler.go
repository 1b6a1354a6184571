package check

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
	"github.com/hitoshi/bookwatch/internal/repository"
)

// BookCheckerService は書籍チェックの実行インターフェース。
type BookCheckerService interface {
	// CheckBook は指定書籍の全ソースをチェックする。
	CheckBook(ctx context.Context, book *model.Book) error
}

// Scheduler は書籍チェックのスケジューリングと排他制御を行う。
// 設定されたチェック間隔でアクティブな書籍をスイープし、
// semaphoreパターンで最大並列数を制御しながらチェックを実行する。
// 同一書籍のチェックはin-flightレジストリにより同時に1つしか走らない。
type Scheduler struct {
	bookRepo     repository.BookRepository
	settingsRepo repository.SettingsRepository
	checker      BookCheckerService
	logger       *slog.Logger

	maxConcurrency int

	// inFlight はチェック実行中の書籍IDの集合。書籍単位の排他を保証する。
	inFlight sync.Map

	// refreshCh は設定変更時に待機時間を再計算させるためのチャネル。
	refreshCh chan struct{}

	mu     sync.Mutex
	runCtx context.Context
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	bookRepo repository.BookRepository,
	settingsRepo repository.SettingsRepository,
	checker BookCheckerService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		bookRepo:       bookRepo,
		settingsRepo:   settingsRepo,
		checker:        checker,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		refreshCh:      make(chan struct{}, 1),
	}
}

// Start はスケジューラを起動する。
// 各スイープの待機時間はその時点の設定から読み直されるため、
// チェック間隔の変更は次の待機から反映される。Refreshを呼ぶと
// 待機中でも即座に新しい間隔で再計算される。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.logger.Info("チェックスケジューラを開始しました",
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunSweep(ctx); err != nil {
		s.logger.Error("チェックサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		interval := s.currentInterval(ctx)
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("チェックスケジューラを停止しました")
			return
		case <-timer.C:
			if err := s.RunSweep(ctx); err != nil {
				s.logger.Error("チェックサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		case <-s.refreshCh:
			// 設定変更: 待機を中断し、新しい間隔で再計算する
			timer.Stop()
			s.logger.Info("チェック間隔の変更を反映します")
		}
	}
}

// Refresh は設定変更をスケジューラに通知する。
// 待機中のタイマーが新しいチェック間隔で再計算される。ブロックしない。
func (s *Scheduler) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// currentInterval は現在のチェック間隔を設定から取得する。
// 取得に失敗した場合はデフォルト間隔にフォールバックする。
func (s *Scheduler) currentInterval(ctx context.Context) time.Duration {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		s.logger.Error("設定の取得に失敗しました。デフォルト間隔を使用します",
			slog.String("error", err.Error()),
			slog.Int("default_hours", model.DefaultCheckIntervalHours),
		)
		return time.Duration(model.DefaultCheckIntervalHours) * time.Hour
	}
	return time.Duration(settings.CheckIntervalHours) * time.Hour
}

// RunSweep はアクティブな全書籍を1回チェックする。
// semaphoreパターンで書籍単位の並列数を制御する。
// 実行中の書籍はスキップされる（書籍単位の排他）。
func (s *Scheduler) RunSweep(ctx context.Context) error {
	start := time.Now()

	books, err := s.bookRepo.ListActive(ctx)
	if err != nil {
		return err
	}

	if len(books) == 0 {
		s.logger.Info("チェック対象の書籍はありません")
		return nil
	}

	s.logger.Info("チェックサイクルを開始します",
		slog.Int("book_count", len(books)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, book := range books {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(b *model.Book) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			s.runGuarded(ctx, b)
		}(book)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("チェックサイクルが完了しました",
		slog.Int("book_count", len(books)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// TriggerCheck は書籍の手動チェックを非同期に開始する。
// 既に同じ書籍のチェックが実行中の場合は開始せずfalseを返す。
// 手動チェックはHTTPリクエストのライフサイクルから切り離されて実行される。
func (s *Scheduler) TriggerCheck(book *model.Book) bool {
	if _, loaded := s.inFlight.LoadOrStore(book.ID, struct{}{}); loaded {
		s.logger.Info("書籍のチェックは既に実行中です",
			slog.String("book_id", book.ID),
			slog.String("book_title", book.Title),
		)
		return false
	}

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer s.inFlight.Delete(book.ID)
		if err := s.checker.CheckBook(ctx, book); err != nil {
			s.logger.Error("手動チェックに失敗しました",
				slog.String("book_id", book.ID),
				slog.String("book_title", book.Title),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

// runGuarded はin-flightレジストリで排他しながら書籍チェックを実行する。
// 既に実行中の書籍はスキップする。
func (s *Scheduler) runGuarded(ctx context.Context, book *model.Book) {
	if _, loaded := s.inFlight.LoadOrStore(book.ID, struct{}{}); loaded {
		s.logger.Info("書籍のチェックは既に実行中のためスキップします",
			slog.String("book_id", book.ID),
			slog.String("book_title", book.Title),
		)
		return
	}
	defer s.inFlight.Delete(book.ID)

	if err := s.checker.CheckBook(ctx, book); err != nil {
		s.logger.Error("書籍チェックに失敗しました",
			slog.String("book_id", book.ID),
			slog.String("book_title", book.Title),
			slog.String("error", err.Error()),
		)
	}
}
