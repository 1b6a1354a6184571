// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, source, book, notification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBookNotFound         = "BOOK_NOT_FOUND"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeSiteNotFound         = "SITE_NOT_FOUND"
	ErrCodeInvalidBook          = "INVALID_BOOK"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeInvalidCheckInterval = "INVALID_CHECK_INTERVAL"
	ErrCodeSourceUnavailable    = "SOURCE_UNAVAILABLE"
	ErrCodeSourceParseFailed    = "SOURCE_PARSE_FAILED"
	ErrCodeDuplicateSite        = "DUPLICATE_SITE"
)

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "book",
		Action:   "書籍IDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "notification",
		Action:   "通知IDを確認してください。",
	}
}

// NewSiteNotFoundError はカスタムサイト未検出エラーを生成する。
func NewSiteNotFoundError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeSiteNotFound,
		Message:  fmt.Sprintf("指定されたサイトはこの書籍に登録されていません: %s", url),
		Category: "book",
		Action:   "書籍に登録済みのカスタムサイトURLを指定してください。",
	}
}

// NewInvalidBookError は書籍入力の検証エラーを生成する。
func NewInvalidBookError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBook,
		Message:  fmt.Sprintf("書籍の入力が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと著者を入力し、有効なサイトを選択してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewInvalidCheckIntervalError はチェック間隔が無効な場合のエラーを生成する。
func NewInvalidCheckIntervalError(hours int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCheckInterval,
		Message:  fmt.Sprintf("無効なチェック間隔です: %d時間", hours),
		Category: "validation",
		Action:   "チェック間隔は 1、3、6、12、24 時間のいずれかを指定してください。",
	}
}

// NewSourceUnavailableError はソース到達不能エラーを生成する。
// ネットワーク障害・タイムアウトなどの一時的な失敗を表し、
// 次回のスケジュールサイクルで再試行される。
func NewSourceUnavailableError(siteName, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceUnavailable,
		Message:  fmt.Sprintf("ソース %s に到達できませんでした: %s", siteName, reason),
		Category: "source",
		Action:   "次回の自動チェックで再試行されます。",
	}
}

// NewSourceParseFailedError はソース解析失敗エラーを生成する。
// カタログのレスポンス構造が変わった場合に発生する。
func NewSourceParseFailedError(siteName, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceParseFailed,
		Message:  fmt.Sprintf("ソース %s の検索結果を解析できませんでした: %s", siteName, reason),
		Category: "source",
		Action:   "サイトの構造が変更された可能性があります。他のソースのチェックは継続されます。",
	}
}

// NewDuplicateSiteError は既に登録済みのカスタムサイトを再度追加しようとした場合のエラーを生成する。
func NewDuplicateSiteError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSite,
		Message:  fmt.Sprintf("このサイトは既に登録されています: %s", url),
		Category: "book",
		Action:   "書籍のサイト一覧を確認してください。",
	}
}
