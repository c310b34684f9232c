package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// AccessVerifier はslugとパスワードの組を検証する。
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, slug, password string) (*model.Recipient, error)
}

// ViewerSessionStarter は検証済みの受け取り手に対して閲覧セッションを開始する。
type ViewerSessionStarter interface {
	Start(ctx context.Context, recipient *model.Recipient) (*model.ViewerSession, error)
	TTL() time.Duration
}

// ViewerTokenIssuer は閲覧セッションに紐づくトークンを発行する。
type ViewerTokenIssuer interface {
	Issue(session *model.ViewerSession, ttl time.Duration) (string, error)
}

// ViewerCookieConfig は閲覧トークンCookieの属性。
type ViewerCookieConfig struct {
	CookieSecure bool
	CookieDomain string
}

// AccessHandler はパスワードゲートのHTTPハンドラー。
type AccessHandler struct {
	gate     AccessVerifier
	sessions ViewerSessionStarter
	tokens   ViewerTokenIssuer
	cookie   ViewerCookieConfig
}

// NewAccessHandler はAccessHandlerを生成する。
func NewAccessHandler(gate AccessVerifier, sessions ViewerSessionStarter, tokens ViewerTokenIssuer, cookie ViewerCookieConfig) *AccessHandler {
	return &AccessHandler{
		gate:     gate,
		sessions: sessions,
		tokens:   tokens,
		cookie:   cookie,
	}
}

type verifyPasswordRequest struct {
	Slug     string `json:"slug"`
	Password string `json:"password"`
}

// 利用者に返すメッセージは閉じた集合とし、内部エラーの詳細は含めない。
const (
	msgMissingFields   = "Missing slug or password"
	msgInvalidPassword = "Invalid password"
	msgServerError     = "Internal server error"
)

// VerifyPassword はslugとパスワードを検証し、閲覧トークンを発行する。
// POST /api/verify-recipient-password
func (h *AccessHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   msgMissingFields,
		})
		return
	}

	rec, err := h.gate.VerifyAccess(r.Context(), req.Slug, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrValidation):
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   msgMissingFields,
		})
		return
	case errors.Is(err, model.ErrInvalidCredentials):
		middleware.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   msgInvalidPassword,
		})
		return
	default:
		// ゲート側でログ済み
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": msgServerError,
		})
		return
	}

	session, err := h.sessions.Start(r.Context(), rec)
	if err != nil {
		slog.Error("閲覧セッションの開始に失敗しました",
			slog.String("recipient_id", rec.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": msgServerError,
		})
		return
	}

	ttl := h.sessions.TTL()
	token, err := h.tokens.Issue(session, ttl)
	if err != nil {
		slog.Error("閲覧トークンの発行に失敗しました", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": msgServerError,
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.ViewerCookieName,
		Value:    token,
		Path:     "/api/b/" + rec.Slug,
		Domain:   h.cookie.CookieDomain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"recipient":    rec,
		"viewer_token": token,
	})
}
