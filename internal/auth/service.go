// Package auth は管理者のOAuth認証とセッション管理、閲覧者トークンの発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	// AdminEmails はログイン時に管理者ロールを付与するメールアドレス。
	AdminEmails []string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	roleRepo    repository.RoleRepository
	config      ServiceConfig
	adminEmails map[string]bool
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	roleRepo repository.RoleRepository,
	config ServiceConfig,
) *Service {
	admins := make(map[string]bool, len(config.AdminEmails))
	for _, e := range config.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = true
		}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		roleRepo:    roleRepo,
		config:      config,
		adminEmails: admins,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusers、identities、user_rolesを同一トランザクションで作成する。
// 確認済みメールアドレスが管理者リストに含まれる場合は管理者ロールを付与する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	admin := s.isAdminEmail(userInfo)

	// 2. identityから既存ユーザーを検索
	user, err := s.userRepo.FindByIdentity(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by identity: %w", err)
	}

	var userID string

	if user != nil {
		// 3a. 既存ユーザー: 管理者リストの変更をロールに反映
		userID = user.ID
		if err := s.syncAdminRole(ctx, userID, admin); err != nil {
			return nil, err
		}
		slog.Info("既存ユーザーがログインしました",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
			slog.Bool("admin", admin),
		)
	} else {
		// 3b. 新規ユーザー: usersとidentitiesとロールを同時に作成
		now := time.Now()
		newUser := &model.User{
			ID:        uuid.New().String(),
			Email:     userInfo.Email,
			Name:      userInfo.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         newUser.ID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}
		roles := []model.Role{model.RoleUser}
		if admin {
			roles = append(roles, model.RoleAdmin)
		}

		if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity, roles); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}

		userID = newUser.ID
		slog.Info("新規ユーザーを作成しました",
			slog.String("user_id", userID),
			slog.String("email", userInfo.Email),
			slog.Bool("admin", admin),
		)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// IsAdmin はユーザーが管理者ロールを持つかを返す。
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	ok, err := s.roleRepo.HasRole(ctx, userID, model.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return ok, nil
}

// syncAdminRole は管理者リストに合わせてロールを付与または剥奪する。
func (s *Service) syncAdminRole(ctx context.Context, userID string, admin bool) error {
	if admin {
		if err := s.roleRepo.Grant(ctx, userID, model.RoleAdmin); err != nil {
			return fmt.Errorf("failed to grant admin role: %w", err)
		}
		return nil
	}
	if err := s.roleRepo.Revoke(ctx, userID, model.RoleAdmin); err != nil {
		return fmt.Errorf("failed to revoke admin role: %w", err)
	}
	return nil
}

func (s *Service) isAdminEmail(info *OAuthUserInfo) bool {
	return info.EmailVerified && s.adminEmails[strings.ToLower(info.Email)]
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
