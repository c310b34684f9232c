package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// maxUserInfoBytes はユーザー情報レスポンスの読み込み上限。
	maxUserInfoBytes = 1 << 20
)

// ErrHostedDomainMismatch はGoogle Workspaceドメインの制限に一致しないアカウントを示す。
var ErrHostedDomainMismatch = errors.New("google account is outside the allowed hosted domain")

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HostedDomain が指定された場合、そのWorkspaceドメインのアカウントのみ許可する。
	HostedDomain string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider は管理者ログイン用のGoogle OAuth 2.0プロバイダー。
type GoogleOAuthProvider struct {
	oauth        *oauth2.Config
	userInfoURL  string
	hostedDomain string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := oauth2.Endpoint{
		AuthURL:   orDefault(config.AuthURL, defaultGoogleAuthURL),
		TokenURL:  orDefault(config.TokenURL, defaultGoogleTokenURL),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL:  orDefault(config.UserInfoURL, defaultGoogleUserInfoURL),
		hostedDomain: strings.ToLower(strings.TrimSpace(config.HostedDomain)),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetLoginURL はGoogleの認可画面URLを生成する。
// 複数アカウントを持つ管理者向けに常にアカウント選択を表示する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if p.hostedDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", p.hostedDomain))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	HostedDomain  string `json:"hd"`
}

// ExchangeCode は認可コードをトークンに交換し、管理者候補のユーザー情報を返す。
// メールアドレスは小文字に正規化する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, p.oauth.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	// hdパラメータはURL改ざんで外せるため、レスポンス側でも検証する
	if p.hostedDomain != "" && !strings.EqualFold(info.HostedDomain, p.hostedDomain) {
		return nil, fmt.Errorf("%w: %q", ErrHostedDomainMismatch, info.HostedDomain)
	}

	return &OAuthUserInfo{
		ProviderUserID: info.Sub,
		Email:          strings.ToLower(strings.TrimSpace(info.Email)),
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		Provider:       "google",
	}, nil
}

func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, client *http.Client) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserInfoBytes))
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("empty sub in user info response")
	}
	return &info, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
