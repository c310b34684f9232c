package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/birthday-portal/internal/model"
)

const sessionColumns = "id, user_id, expires_at, created_at"

// PostgresSessionRepo は管理者セッションをPostgreSQLに保存する。
// 有効期限はアプリケーション側の時計で判定し、発行時のExpiresAtと基準を揃える。
type PostgresSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, now: time.Now}
}

// Create は管理者ログインで発行したセッションを保存する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create admin session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションを返す。空ID、未登録、期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}

	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > $2`,
		id, r.now().UTC(),
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin session: %w", err)
	}
	return &s, nil
}

// DeleteByID はログアウトしたセッションを削除する。存在しなくてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete admin session: %w", err)
	}
	return nil
}

// DeleteExpired はクリーンアップワーカーから呼ばれ、期限切れのセッションを削除件数とともに返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		r.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired admin sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
