// Package model はドメインモデルを定義する。
package model

import "time"

// User は管理画面にログインするユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session は管理者のログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Role はユーザーに付与されるアプリケーションロール。
type Role string

const (
	// RoleAdmin は受け取り手の作成・編集・削除ができる管理者ロール。
	RoleAdmin Role = "admin"
	// RoleUser は一般ユーザーロール。
	RoleUser Role = "user"
)

// ViewerSession はパスワード認証に成功した閲覧者の体験セッションを表す。
// 受け取り手の設定はセッション開始時に1回だけ読み込まれ、以降はキャッシュから参照する。
type ViewerSession struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Slug        string    `json:"slug"`
	StepIndex   int       `json:"step_index"`
	CreatedAt   time.Time `json:"created_at"`
}
