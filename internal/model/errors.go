// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// アクセスゲートと体験シーケンサーが返す番兵エラー。
// 呼び出し側はerrors.Isで判定し、利用者向けの閉じた状態集合に変換する。
var (
	// ErrValidation は空のslugやパスワードなど、通信前に検出できる入力エラー。
	ErrValidation = errors.New("validation error")
	// ErrInvalidCredentials はslugとパスワードの組が一致しないことを示す。
	// 受け取り手の不在とパスワード誤りは区別しない。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBackendUnavailable は永続化層に到達できないことを示す。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrRecipientNotFound は指定の受け取り手が存在しないことを示す。
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrViewerSessionNotFound は閲覧セッションが存在しないか期限切れであることを示す。
	ErrViewerSessionNotFound = errors.New("viewer session not found")
	// ErrStepLocked は誕生日前にカウントダウンから先へ進もうとしたことを示す。
	ErrStepLocked = errors.New("step locked until birthday")
	// ErrStepNotAvailable は現在のシーケンスに含まれないステップが指定されたことを示す。
	ErrStepNotAvailable = errors.New("step not available")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, recipient, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	ErrCodeInvalidContent    = "INVALID_CONTENT"
	ErrCodePasswordTooShort  = "PASSWORD_TOO_SHORT"
	ErrCodeInvalidUpload     = "INVALID_UPLOAD"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeSiteNotFound      = "SITE_NOT_FOUND"
)

// MinPasswordLength は受け取り手パスワードの最小文字数。
const MinPasswordLength = 4

// NewRecipientNotFoundError は受け取り手未検出エラーを生成する。
func NewRecipientNotFoundError(recipientID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipientNotFound,
		Message:  fmt.Sprintf("指定された受け取り手が見つかりません: %s", recipientID),
		Category: "recipient",
		Action:   "一覧を再読み込みしてから、もう一度お試しください。",
	}
}

// NewInvalidContentError はコンテンツ更新内容が不正な場合のエラーを生成する。
func NewInvalidContentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContent,
		Message:  fmt.Sprintf("更新内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewPasswordTooShortError はパスワードが短すぎる場合のエラーを生成する。
func NewPasswordTooShortError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooShort,
		Message:  fmt.Sprintf("パスワードは%d文字以上で指定してください。", MinPasswordLength),
		Category: "validation",
		Action:   "より長いパスワードを入力してください。",
	}
}

// NewInvalidUploadError はアップロード要求が不正な場合のエラーを生成する。
func NewInvalidUploadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUpload,
		Message:  fmt.Sprintf("アップロード要求が不正です: %s", reason),
		Category: "validation",
		Action:   "画像・音声・動画ファイルを選択してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は管理者権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作には管理者権限が必要です。",
		Category: "auth",
		Action:   "管理者アカウントでログインし直してください。",
	}
}

// NewSiteNotFoundError はデフォルトサイト設定が存在しない場合のエラーを生成する。
func NewSiteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSiteNotFound,
		Message:  "サイト設定が見つかりません。",
		Category: "system",
		Action:   "マイグレーションが適用されているか確認してください。",
	}
}
