package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/bookwatch/internal/middleware"
	"github.com/hitoshi/bookwatch/internal/model"
)

// mockScheduler はSchedulerのテスト用モック。
type mockScheduler struct {
	triggerResult bool
	refreshCount  int
}

func (m *mockScheduler) TriggerCheck(book *model.Book) bool { return m.triggerResult }
func (m *mockScheduler) Refresh()                           { m.refreshCount++ }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		CheckRate:       100,
		CheckBurst:      100,
		CleanupInterval: 1 * time.Minute,
	})
	t.Cleanup(rl.Stop)

	var buf bytes.Buffer
	return NewRouter(&RouterDeps{
		Logger:              slog.New(slog.NewJSONHandler(&buf, nil)),
		CORSAllowedOrigin:   "http://localhost:3000",
		RateLimiter:         rl,
		BookService:         &mockBookService{},
		NotificationService: &mockNotificationService{},
		SettingsRepo:        &mockSettingsRepo{},
		Scheduler:           &mockScheduler{triggerResult: true},
	})
}

func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗した: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %s, want ok", resp["status"])
	}
}

func TestRouter_RoutesAreWired(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodGet, "/api/books", "", http.StatusOK},
		{http.MethodPost, "/api/books", `{"title":"Tutunamayanlar","author":"Oğuz Atay"}`, http.StatusCreated},
		{http.MethodGet, "/api/books/book-1", "", http.StatusOK},
		{http.MethodDelete, "/api/books/book-1", "", http.StatusNoContent},
		{http.MethodPost, "/api/books/book-1/check", "", http.StatusAccepted},
		{http.MethodGet, "/api/books/book-1/listings", "", http.StatusOK},
		{http.MethodPost, "/api/books/book-1/sites", `{"url":"https://www.sahafim.com"}`, http.StatusCreated},
		{http.MethodDelete, "/api/books/book-1/sites", `{"url":"https://www.sahafim.com"}`, http.StatusNoContent},
		{http.MethodGet, "/api/notifications", "", http.StatusOK},
		{http.MethodPut, "/api/notifications/n-1/read", "", http.StatusOK},
		{http.MethodGet, "/api/settings", "", http.StatusOK},
		{http.MethodPut, "/api/settings", `{"check_interval_hours":6}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			req.RemoteAddr = "192.0.2.50:51234"
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_UnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.RemoteAddr = "192.0.2.51:51234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_CORSHeadersOnAPIRoutes(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.RemoteAddr = "192.0.2.52:51234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_SettingsUpdateNotifiesScheduler(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	scheduler := &mockScheduler{triggerResult: true}
	var buf bytes.Buffer
	router := NewRouter(&RouterDeps{
		Logger:              slog.New(slog.NewJSONHandler(&buf, nil)),
		CORSAllowedOrigin:   "http://localhost:3000",
		RateLimiter:         rl,
		BookService:         &mockBookService{},
		NotificationService: &mockNotificationService{},
		SettingsRepo:        &mockSettingsRepo{},
		Scheduler:           scheduler,
	})

	body := `{"check_interval_hours":1}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body))
	req.RemoteAddr = "192.0.2.53:51234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if scheduler.refreshCount != 1 {
		t.Errorf("スケジューラへの通知回数 = %d, want 1", scheduler.refreshCount)
	}
}
