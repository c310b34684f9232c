// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は管理者が入力した体験コンテンツのテキストから
// HTMLを除去し、閲覧画面でのXSSを防ぐ。
// bluemondayのStrictPolicyで全タグを除去した後、エンティティを元の文字に戻して
// プレーンテキストとして保存する（表示側で必ずエスケープされる前提）。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はテキストのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// SanitizeText はテキストから全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleなどの要素はその中身ごと除去される。
	// 空文字列の入力には空文字列を返す。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はテキストをサニタイズする。
// StrictPolicyは"&"や"'"をエンティティ化するため、最後にアンエスケープする。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}
