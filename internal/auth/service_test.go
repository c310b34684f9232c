package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByIdentityFn     func(ctx context.Context, provider, providerUserID string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	if m.findByIdentityFn != nil {
		return m.findByIdentityFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity, roles)
	}
	return nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type mockRoleRepo struct {
	hasRoleFn func(ctx context.Context, userID string, role model.Role) (bool, error)
	granted   []string
	revoked   []string
	grantErr  error
}

func (m *mockRoleRepo) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	if m.hasRoleFn != nil {
		return m.hasRoleFn(ctx, userID, role)
	}
	return false, nil
}

func (m *mockRoleRepo) Grant(ctx context.Context, userID string, role model.Role) error {
	m.granted = append(m.granted, userID+":"+string(role))
	return m.grantErr
}

func (m *mockRoleRepo) Revoke(ctx context.Context, userID string, role model.Role) error {
	m.revoked = append(m.revoked, userID+":"+string(role))
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.RoleRepository = (*mockRoleRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

func providerReturning(info *OAuthUserInfo) *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return info, nil
		},
	}
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(provider, nil, nil, nil, ServiceConfig{SessionMaxAge: 86400})

	expected := "https://accounts.google.com/o/oauth2/auth?state=test-state"
	if url := svc.GetLoginURL("test-state"); url != expected {
		t.Errorf("GetLoginURL() = %q, want %q", url, expected)
	}
}

func TestHandleCallback_NewUser_CreatesUserIdentityRolesAndSession(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdIdentity *model.Identity
	var createdRoles []model.Role
	var createdSession *model.Session

	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-user-123",
		Email:          "test@example.com",
		EmailVerified:  true,
		Name:           "Test User",
		Provider:       "google",
	})

	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
			createdUser = user
			createdIdentity = identity
			createdRoles = roles
			return nil
		},
	}

	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(provider, userRepo, sessionRepo, &mockRoleRepo{}, ServiceConfig{SessionMaxAge: 86400})

	session, err := svc.HandleCallback(ctx, "auth-code-123")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if session == nil || session.ID == "" {
		t.Fatal("expected session with ID")
	}

	// ユーザーとidentityが作成されること
	if createdUser == nil || createdUser.Email != "test@example.com" {
		t.Fatalf("unexpected created user: %+v", createdUser)
	}
	if createdIdentity == nil || createdIdentity.UserID != createdUser.ID || createdIdentity.ProviderUserID != "google-user-123" {
		t.Errorf("unexpected identity: %+v", createdIdentity)
	}

	// 管理者リストにないユーザーは一般ロールのみ
	if len(createdRoles) != 1 || createdRoles[0] != model.RoleUser {
		t.Errorf("roles = %v, want [user]", createdRoles)
	}

	if createdSession.UserID != createdUser.ID {
		t.Errorf("session userID = %q, want %q", createdSession.UserID, createdUser.ID)
	}
	if createdSession.ExpiresAt.Before(time.Now()) {
		t.Error("session should not be expired")
	}
}

func TestHandleCallback_NewAdminUser_GetsAdminRole(t *testing.T) {
	var createdRoles []model.Role
	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-admin",
		Email:          "Owner@Example.com",
		EmailVerified:  true,
		Provider:       "google",
	})
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
			createdRoles = roles
			return nil
		},
	}

	svc := NewService(provider, userRepo, &mockSessionRepo{}, &mockRoleRepo{}, ServiceConfig{
		SessionMaxAge: 86400,
		AdminEmails:   []string{" owner@example.com "},
	})

	if _, err := svc.HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if len(createdRoles) != 2 || createdRoles[1] != model.RoleAdmin {
		t.Errorf("roles = %v, want [user admin]", createdRoles)
	}
}

// 未確認のメールアドレスには管理者ロールを付与しない。
func TestHandleCallback_UnverifiedEmail_NoAdminRole(t *testing.T) {
	var createdRoles []model.Role
	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-x",
		Email:          "owner@example.com",
		EmailVerified:  false,
		Provider:       "google",
	})
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
			createdRoles = roles
			return nil
		},
	}

	svc := NewService(provider, userRepo, &mockSessionRepo{}, &mockRoleRepo{}, ServiceConfig{
		AdminEmails: []string{"owner@example.com"},
	})

	if _, err := svc.HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	for _, r := range createdRoles {
		if r == model.RoleAdmin {
			t.Error("unverified email must not receive admin role")
		}
	}
}

func TestHandleCallback_ExistingUser_LogsInAndCreatesSession(t *testing.T) {
	ctx := context.Background()

	existingUserID := "existing-user-id-456"
	var createdSession *model.Session

	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-user-789",
		Email:          "existing@example.com",
		Provider:       "google",
	})

	userRepo := &mockUserRepo{
		findByIdentityFn: func(ctx context.Context, provider, providerUserID string) (*model.User, error) {
			if provider != "google" || providerUserID != "google-user-789" {
				t.Errorf("FindByIdentity(%q, %q)", provider, providerUserID)
			}
			return &model.User{ID: existingUserID, Email: "existing@example.com"}, nil
		},
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
			t.Error("CreateWithIdentity should not be called for existing user")
			return nil
		},
	}

	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}
	roleRepo := &mockRoleRepo{}

	svc := NewService(provider, userRepo, sessionRepo, roleRepo, ServiceConfig{SessionMaxAge: 86400})

	session, err := svc.HandleCallback(ctx, "auth-code-existing")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != existingUserID || createdSession.UserID != existingUserID {
		t.Errorf("session userID = %q, want %q", session.UserID, existingUserID)
	}
	if len(roleRepo.granted) != 0 {
		t.Errorf("no role should be granted, got %v", roleRepo.granted)
	}
}

// 既存ユーザーが後から管理者リストに追加された場合はログイン時に付与する。
func TestHandleCallback_ExistingUser_GrantsAdminWhenListed(t *testing.T) {
	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-1",
		Email:          "owner@example.com",
		EmailVerified:  true,
		Provider:       "google",
	})
	userRepo := &mockUserRepo{
		findByIdentityFn: func(ctx context.Context, provider, providerUserID string) (*model.User, error) {
			return &model.User{ID: "u-1"}, nil
		},
	}
	roleRepo := &mockRoleRepo{}

	svc := NewService(provider, userRepo, &mockSessionRepo{}, roleRepo, ServiceConfig{
		AdminEmails: []string{"owner@example.com"},
	})

	if _, err := svc.HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if len(roleRepo.granted) != 1 || roleRepo.granted[0] != "u-1:admin" {
		t.Errorf("granted = %v, want [u-1:admin]", roleRepo.granted)
	}
}

// 管理者リストから外れたユーザーはログイン時にロールを失う。
func TestHandleCallback_ExistingUser_RevokesAdminWhenUnlisted(t *testing.T) {
	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-2",
		Email:          "former@example.com",
		EmailVerified:  true,
		Provider:       "google",
	})
	userRepo := &mockUserRepo{
		findByIdentityFn: func(ctx context.Context, provider, providerUserID string) (*model.User, error) {
			return &model.User{ID: "u-2"}, nil
		},
	}
	roleRepo := &mockRoleRepo{}

	svc := NewService(provider, userRepo, &mockSessionRepo{}, roleRepo, ServiceConfig{
		AdminEmails: []string{"owner@example.com"},
	})

	if _, err := svc.HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if len(roleRepo.granted) != 0 {
		t.Errorf("granted = %v, want none", roleRepo.granted)
	}
	if len(roleRepo.revoked) != 1 || roleRepo.revoked[0] != "u-2:admin" {
		t.Errorf("revoked = %v, want [u-2:admin]", roleRepo.revoked)
	}
}

func TestHandleCallback_OAuthError_ReturnsError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("oauth exchange failed")
		},
	}

	svc := NewService(provider, nil, nil, nil, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.HandleCallback(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error from HandleCallback")
	}
}

func TestHandleCallback_UserCreationError_ReturnsError(t *testing.T) {
	provider := providerReturning(&OAuthUserInfo{
		ProviderUserID: "google-user-err",
		Email:          "error@example.com",
		Provider:       "google",
	})

	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity, roles []model.Role) error {
			return errors.New("db error")
		},
	}

	svc := NewService(provider, userRepo, nil, &mockRoleRepo{}, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.HandleCallback(context.Background(), "auth-code-err"); err == nil {
		t.Fatal("expected error from HandleCallback")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	var deletedSessionID string

	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedSessionID = id
			return nil
		},
	}

	svc := NewService(nil, nil, sessionRepo, nil, ServiceConfig{SessionMaxAge: 86400})

	if err := svc.Logout(context.Background(), "session-to-delete"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deletedSessionID != "session-to-delete" {
		t.Errorf("deleted session ID = %q, want %q", deletedSessionID, "session-to-delete")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, ServiceConfig{SessionMaxAge: 86400})

	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	userID := "user-id-123"

	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: "session-valid", UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: userID, Email: "user@example.com"}, nil
		},
	}

	svc := NewService(nil, userRepo, sessionRepo, nil, ServiceConfig{SessionMaxAge: 86400})

	user, err := svc.GetCurrentUser(context.Background(), "session-valid")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != userID {
		t.Errorf("user ID = %q, want %q", user.ID, userID)
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsError(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			// 期限切れセッション -> リポジトリはnilを返す
			return nil, nil
		},
	}

	svc := NewService(nil, nil, sessionRepo, nil, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.GetCurrentUser(context.Background(), "expired-session"); err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestGetCurrentUser_EmptySessionID_ReturnsError(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.GetCurrentUser(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestIsAdmin(t *testing.T) {
	roleRepo := &mockRoleRepo{
		hasRoleFn: func(ctx context.Context, userID string, role model.Role) (bool, error) {
			if role != model.RoleAdmin {
				t.Errorf("role = %q, want admin", role)
			}
			return userID == "admin-1", nil
		},
	}
	svc := NewService(nil, nil, nil, roleRepo, ServiceConfig{})

	if ok, _ := svc.IsAdmin(context.Background(), "admin-1"); !ok {
		t.Error("admin-1 should be admin")
	}
	if ok, _ := svc.IsAdmin(context.Background(), "user-2"); ok {
		t.Error("user-2 should not be admin")
	}

	roleRepo.hasRoleFn = func(ctx context.Context, userID string, role model.Role) (bool, error) {
		return false, errors.New("db down")
	}
	if _, err := svc.IsAdmin(context.Background(), "admin-1"); err == nil {
		t.Error("expected error")
	}
}
