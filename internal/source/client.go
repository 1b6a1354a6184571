// Package source は中古書籍カタログの検索アダプタを提供する。
// 固定カタログ（Nadir Kitap, Kitantik, Halk Kitabevi）、ユーザー登録の
// カスタムサイト、Web検索フォールバックをAdapterインターフェースに統一する。
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// userAgent はスクレイプリクエストのUser-Agent。
	userAgent = "Bookwatch/1.0 Book Availability Tracker"

	// maxBodySize はレスポンスボディの読み込み上限（5MB）。
	maxBodySize = 5 * 1024 * 1024

	// defaultHostInterval は同一ホストへの連続リクエストの最小間隔。
	// 外部カタログへの負荷を抑えるためホスト単位でスロットルする。
	defaultHostInterval = 2 * time.Second
)

// Client は全アダプタが共有するスクレイプ用HTTPクライアント。
// SSRF防止付きのhttp.Clientをラップし、ホスト単位のレートリミットを適用する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはsecurity.SSRFGuardService.NewSafeClientの生成物を渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
		interval:   defaultHostInterval,
	}
}

// SetHostInterval は同一ホストへのリクエスト最小間隔を変更する。
// 起動時の設定反映用。すでに生成済みのホスト別リミッタには影響しない。
func (c *Client) SetHostInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

// limiterFor はホストに対応するレートリミッタを返す。初回アクセス時に生成する。
func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(c.interval), 1)
	c.limiters[host] = l
	return l
}

// Get は指定URLを取得し、ボディとContent-Typeを返す。
// 同一ホストへのリクエストはレートリミッタで間隔を空ける。
// 200以外のステータスはエラーとして扱う。
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("URLのパースに失敗しました: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if err := c.limiterFor(host).Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("ステータス %d が返されました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}
