package check

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/bookwatch/internal/model"
)

// mockSettingsRepo はSettingsRepositoryのテスト用モック。
type mockSettingsRepo struct {
	getFunc func(ctx context.Context) (*model.Settings, error)
}

func (m *mockSettingsRepo) Get(ctx context.Context) (*model.Settings, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx)
	}
	return &model.Settings{CheckIntervalHours: model.DefaultCheckIntervalHours}, nil
}

func (m *mockSettingsRepo) Update(ctx context.Context, s *model.Settings) error { return nil }

// mockChecker はBookCheckerServiceのテスト用モック。
type mockChecker struct {
	checkBookFunc func(ctx context.Context, book *model.Book) error
}

func (m *mockChecker) CheckBook(ctx context.Context, book *model.Book) error {
	if m.checkBookFunc != nil {
		return m.checkBookFunc(ctx, book)
	}
	return nil
}

func testBooks(n int) []*model.Book {
	books := make([]*model.Book, n)
	for i := range books {
		books[i] = &model.Book{
			ID:    "book-" + string(rune('a'+i)),
			Title: "Kitap " + string(rune('A'+i)),
		}
	}
	return books
}

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&mockBookRepo{}, &mockSettingsRepo{}, &mockChecker{}, newTestLogger(&buf), 0)
	if s.maxConcurrency != 5 {
		t.Errorf("maxConcurrency = %d, want 5 (デフォルト値)", s.maxConcurrency)
	}

	s = NewScheduler(&mockBookRepo{}, &mockSettingsRepo{}, &mockChecker{}, newTestLogger(&buf), 3)
	if s.maxConcurrency != 3 {
		t.Errorf("maxConcurrency = %d, want 3", s.maxConcurrency)
	}
}

func TestRunSweep_ChecksAllActiveBooks(t *testing.T) {
	books := testBooks(4)

	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return books, nil
		},
	}

	var mu sync.Mutex
	checked := map[string]bool{}
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, book *model.Book) error {
			mu.Lock()
			checked[book.ID] = true
			mu.Unlock()
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep() がエラーを返した: %v", err)
	}

	if len(checked) != 4 {
		t.Errorf("チェックされた書籍数 = %d, want 4", len(checked))
	}
	for _, b := range books {
		if !checked[b.ID] {
			t.Errorf("書籍 %s がチェックされていない", b.ID)
		}
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, `"book_count":4`) {
		t.Errorf("ログにbook_countが含まれていない: %s", logOutput)
	}
}

func TestRunSweep_ListActiveError(t *testing.T) {
	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return nil, errors.New("db connection failed")
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, &mockChecker{}, newTestLogger(&buf), 5)

	if err := s.RunSweep(context.Background()); err == nil {
		t.Fatal("書籍一覧の取得失敗時はエラーを返すべき")
	}
}

func TestRunSweep_NoActiveBooks(t *testing.T) {
	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return nil, nil
		},
	}

	var called atomic.Int32
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, book *model.Book) error {
			called.Add(1)
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep() がエラーを返した: %v", err)
	}
	if called.Load() != 0 {
		t.Errorf("書籍がないのにチェックが実行された: %d回", called.Load())
	}
}

func TestRunSweep_ConcurrencyLimit(t *testing.T) {
	books := testBooks(10)

	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return books, nil
		},
	}

	var maxConcurrent, currentConcurrent, checkCount int32
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, book *model.Book) error {
			current := atomic.AddInt32(&currentConcurrent, 1)
			defer atomic.AddInt32(&currentConcurrent, -1)
			atomic.AddInt32(&checkCount, 1)

			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if current <= old {
					break
				}
				if atomic.CompareAndSwapInt32(&maxConcurrent, old, current) {
					break
				}
			}

			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, checker, newTestLogger(&buf), 2)

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep() がエラーを返した: %v", err)
	}

	if atomic.LoadInt32(&checkCount) != 10 {
		t.Errorf("チェック回数 = %d, want 10", atomic.LoadInt32(&checkCount))
	}
	if atomic.LoadInt32(&maxConcurrent) > 2 {
		t.Errorf("最大同時実行数 = %d, 2以下であるべき", atomic.LoadInt32(&maxConcurrent))
	}
}

func TestRunSweep_FailureIsolation(t *testing.T) {
	books := testBooks(3)

	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return books, nil
		},
	}

	var mu sync.Mutex
	checked := map[string]bool{}
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, book *model.Book) error {
			mu.Lock()
			checked[book.ID] = true
			mu.Unlock()
			if book.ID == "book-b" {
				return errors.New("check failed")
			}
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	// 1冊の失敗はスイープ全体の失敗にならない
	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("書籍チェックの失敗はスイープのエラーにならないべき: %v", err)
	}
	if len(checked) != 3 {
		t.Errorf("チェックされた書籍数 = %d, want 3", len(checked))
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "書籍チェックに失敗しました") {
		t.Errorf("失敗ログが出力されていない: %s", logOutput)
	}
	if !strings.Contains(logOutput, "check failed") {
		t.Errorf("ログにエラー内容が含まれていない: %s", logOutput)
	}
}

func TestRunSweep_SkipsInFlightBook(t *testing.T) {
	books := testBooks(1)

	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			return books, nil
		},
	}

	var checkCount atomic.Int32
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, book *model.Book) error {
			checkCount.Add(1)
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	// 手動で実行中としてマークし、スイープがスキップすることを確認
	s.inFlight.Store("book-a", struct{}{})

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep() がエラーを返した: %v", err)
	}
	if checkCount.Load() != 0 {
		t.Errorf("実行中の書籍がスキップされていない: %d回チェックされた", checkCount.Load())
	}

	if !strings.Contains(buf.String(), "既に実行中のためスキップします") {
		t.Errorf("スキップログが出力されていない: %s", buf.String())
	}

	// マークを外せば再びチェックされる
	s.inFlight.Delete("book-a")
	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep() がエラーを返した: %v", err)
	}
	if checkCount.Load() != 1 {
		t.Errorf("チェック回数 = %d, want 1", checkCount.Load())
	}
}

func TestTriggerCheck_RunsAsync(t *testing.T) {
	book := &model.Book{ID: "book-1", Title: "Tutunamayanlar"}

	done := make(chan struct{})
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, b *model.Book) error {
			close(done)
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(&mockBookRepo{}, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	if !s.TriggerCheck(book) {
		t.Fatal("TriggerCheck() = false, want true")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("手動チェックが実行されなかった")
	}

	// 完了後はin-flightレジストリから削除され、再実行できる
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, loaded := s.inFlight.Load(book.ID); !loaded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("チェック完了後もin-flightレジストリに残っている")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTriggerCheck_AlreadyRunning(t *testing.T) {
	book := &model.Book{ID: "book-1", Title: "Tutunamayanlar"}

	started := make(chan struct{})
	release := make(chan struct{})
	checker := &mockChecker{
		checkBookFunc: func(ctx context.Context, b *model.Book) error {
			close(started)
			<-release
			return nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(&mockBookRepo{}, &mockSettingsRepo{}, checker, newTestLogger(&buf), 5)

	if !s.TriggerCheck(book) {
		t.Fatal("1回目のTriggerCheck() = false, want true")
	}
	<-started

	// 実行中は2回目を拒否する
	if s.TriggerCheck(book) {
		t.Error("実行中の書籍に対する2回目のTriggerCheck() = true, want false")
	}
	if !strings.Contains(buf.String(), "既に実行中です") {
		t.Errorf("実行中ログが出力されていない: %s", buf.String())
	}

	close(release)
}

func TestScheduler_StartAndStop(t *testing.T) {
	var sweeps atomic.Int32
	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			sweeps.Add(1)
			return nil, nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, &mockSettingsRepo{}, &mockChecker{}, newTestLogger(&buf), 5)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	// 起動直後のスイープを待つ
	deadline := time.Now().Add(2 * time.Second)
	for sweeps.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("起動直後のスイープが実行されなかった")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストキャンセル後もスケジューラが停止しない")
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "チェックスケジューラを開始しました") {
		t.Errorf("開始ログが出力されていない: %s", logOutput)
	}
	if !strings.Contains(logOutput, "チェックスケジューラを停止しました") {
		t.Errorf("停止ログが出力されていない: %s", logOutput)
	}
}

func TestScheduler_RefreshRecomputesInterval(t *testing.T) {
	var sweeps atomic.Int32
	bookRepo := &mockBookRepo{
		listActiveFunc: func(ctx context.Context) ([]*model.Book, error) {
			sweeps.Add(1)
			return nil, nil
		},
	}

	// 初回は長い間隔、Refresh後はごく短い間隔を返す
	var interval atomic.Int32
	interval.Store(24)
	settingsRepo := &mockSettingsRepo{
		getFunc: func(ctx context.Context) (*model.Settings, error) {
			return &model.Settings{CheckIntervalHours: int(interval.Load())}, nil
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(bookRepo, settingsRepo, &mockChecker{}, newTestLogger(&buf), 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	// 起動直後のスイープを待つ
	deadline := time.Now().Add(2 * time.Second)
	for sweeps.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("起動直後のスイープが実行されなかった")
		}
		time.Sleep(time.Millisecond)
	}

	// Refreshで24時間待機を中断させ、間隔が読み直されることを確認
	s.Refresh()

	deadline = time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "チェック間隔の変更を反映します") {
		if time.Now().After(deadline) {
			t.Fatal("Refresh後に間隔の再計算が行われなかった")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_RefreshNonBlocking(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&mockBookRepo{}, &mockSettingsRepo{}, &mockChecker{}, newTestLogger(&buf), 5)

	// Startしていない状態でも繰り返し呼んでブロックしない
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Refresh()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Refresh() がブロックした")
	}
}

func TestSettingsFallback(t *testing.T) {
	settingsRepo := &mockSettingsRepo{
		getFunc: func(ctx context.Context) (*model.Settings, error) {
			return nil, errors.New("db connection failed")
		},
	}

	var buf bytes.Buffer
	s := NewScheduler(&mockBookRepo{}, settingsRepo, &mockChecker{}, newTestLogger(&buf), 5)

	got := s.currentInterval(context.Background())
	want := time.Duration(model.DefaultCheckIntervalHours) * time.Hour
	if got != want {
		t.Errorf("currentInterval() = %v, want %v (デフォルト間隔)", got, want)
	}
	if !strings.Contains(buf.String(), "デフォルト間隔を使用します") {
		t.Errorf("フォールバックログが出力されていない: %s", buf.String())
	}
}
