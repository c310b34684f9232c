// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// ErrSlugTaken はslugの一意制約違反を示す。呼び出し側は別のslugで再試行する。
var ErrSlugTaken = errors.New("slug already taken")

// RecipientRepository は受け取り手データの永続化インターフェース。
type RecipientRepository interface {
	// FindBySlug はslugで受け取り手を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Recipient, error)

	// FindByID は指定IDの受け取り手を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Recipient, error)

	// List は受け取り手の要約一覧をcreated_at降順で返す。
	List(ctx context.Context) ([]model.RecipientSummary, error)

	// Create は受け取り手を作成する。slugが重複する場合は ErrSlugTaken を返す。
	Create(ctx context.Context, recipient *model.Recipient) error

	// UpdateColumns は指定カラムのみを1行単位で更新し、更新後のレコードを返す。
	// 最後の書き込みが優先される。見つからない場合はnilを返す。
	UpdateColumns(ctx context.Context, id string, columns map[string]any) (*model.Recipient, error)

	// UpdatePasswordHash はパスワードハッシュを更新する。
	// 見つからない場合は model.ErrRecipientNotFound を返す。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// Delete は受け取り手を物理削除する。見つからない場合は model.ErrRecipientNotFound を返す。
	Delete(ctx context.Context, id string) error
}

// SiteConfigRepository はデフォルトサイト設定の永続化インターフェース。
type SiteConfigRepository interface {
	// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, configKey string) (*model.SiteConfig, error)

	// UpdateColumns は指定カラムのみを更新し、更新後の設定を返す。見つからない場合はnilを返す。
	UpdateColumns(ctx context.Context, configKey string, columns map[string]any) (*model.SiteConfig, error)
}

// UserRepository は管理者ユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByIdentity はIdPのproviderとprovider_user_idに紐づくユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error)

	// CreateWithIdentity はユーザー、identity、初期ロールを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error
}

// SessionRepository は管理者セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// RoleRepository はユーザーロールの永続化インターフェース。
type RoleRepository interface {
	// HasRole はユーザーが指定ロールを持つかを返す。
	HasRole(ctx context.Context, userID string, role model.Role) (bool, error)
	// Grant はユーザーにロールを付与する。付与済みの場合は何もしない。
	Grant(ctx context.Context, userID string, role model.Role) error
	// Revoke はユーザーからロールを外す。付与されていない場合は何もしない。
	Revoke(ctx context.Context, userID string, role model.Role) error
}

// ViewerSessionStore は閲覧者の体験セッションを保持する一時ストア。
type ViewerSessionStore interface {
	// Create はセッションをTTL付きで保存する。
	Create(ctx context.Context, session *model.ViewerSession, ttl time.Duration) error
	// Get はセッションを取得する。存在しないか期限切れの場合はnilを返す。
	Get(ctx context.Context, id string) (*model.ViewerSession, error)
	// Update はTTLを維持したままセッションを上書きする。
	// 期限切れの場合は model.ErrViewerSessionNotFound を返す。
	Update(ctx context.Context, session *model.ViewerSession) error
	// Delete はセッションを削除する。
	Delete(ctx context.Context, id string) error
}

// RecipientCache は閲覧セッション中に参照する受け取り手設定のキャッシュ。
type RecipientCache interface {
	// Get はキャッシュから取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Recipient, error)
	// Set はキャッシュに保存する。
	Set(ctx context.Context, recipient *model.Recipient) error
	// Refresh はキャッシュ済みの場合のみ内容を上書きする。
	Refresh(ctx context.Context, recipient *model.Recipient) error
	// Delete はキャッシュから削除する。
	Delete(ctx context.Context, id string) error
}
