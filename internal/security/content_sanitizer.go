// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はスクレイプ結果のテキストをサニタイズし、
// 外部サイト由来のマークアップがそのまま保存・表示されることを防ぐ。
// bluemondayライブラリの厳格ポリシーで全てのタグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はスクレイプテキストのサニタイズ機能のインターフェースを定義する。
// リスティングのタイトル・出品者・状態などの保存前に使用される。
type ContentSanitizerService interface {
	// SanitizeText は入力から全てのHTMLタグを除去し、
	// HTMLエンティティをデコードしたプレーンテキストを返す。
	// script, iframe, style等のタグとその属性は痕跡なく除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 外部カタログのHTMLから抽出したテキストはタグやエンティティを含みうるため、
// 許可タグなしのStrictPolicyで全マークアップを落とす。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は入力から全てのHTMLタグを除去したプレーンテキストを返す。
// bluemondayはタグ除去後のテキストをエンティティエスケープして返すため、
// 表示用の生テキストに戻すデコードを行い、前後の空白を整える。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	text := html.UnescapeString(stripped)
	// &nbsp; はU+00A0にデコードされるため通常の空白に揃える
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return strings.TrimSpace(text)
}
