package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/birthday-portal/internal/auth"
)

// ViewerCookieName は閲覧トークンを保持するCookieの名前。
const ViewerCookieName = "viewer_token"

// ViewerTokenParser は閲覧トークンを検証する。
type ViewerTokenParser interface {
	Parse(token string) (*auth.ViewerClaims, error)
}

// NewViewerMiddleware は閲覧トークンを検証し、クレームをコンテキストに注入する。
// トークンはAuthorizationヘッダーのBearer、なければCookieから読み取る。
// ルートに{slug}がある場合、トークンのslugと一致しなければ401を返す。
func NewViewerMiddleware(parser ViewerTokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := viewerTokenFromRequest(r)
			if token == "" {
				writeViewerUnauthorized(w)
				return
			}

			claims, err := parser.Parse(token)
			if err != nil {
				slog.Info("閲覧トークンを拒否しました",
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				writeViewerUnauthorized(w)
				return
			}

			if slug := chi.URLParam(r, "slug"); slug != "" && slug != claims.Slug {
				writeViewerUnauthorized(w)
				return
			}

			annotate(r.Context(), slog.String("recipient_id", claims.Subject))
			ctx := context.WithValue(r.Context(), viewerClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ViewerClaimsFromContext はNewViewerMiddlewareが注入したクレームを返す。
func ViewerClaimsFromContext(ctx context.Context) (*auth.ViewerClaims, bool) {
	claims, ok := ctx.Value(viewerClaimsContextKey).(*auth.ViewerClaims)
	return claims, ok && claims != nil
}

// ContextWithViewerClaims はコンテキストにクレームを注入する。
func ContextWithViewerClaims(ctx context.Context, claims *auth.ViewerClaims) context.Context {
	return context.WithValue(ctx, viewerClaimsContextKey, claims)
}

func viewerTokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(ViewerCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeViewerUnauthorized(w http.ResponseWriter) {
	WriteJSON(w, http.StatusUnauthorized, map[string]any{
		"success": false,
		"error":   "Session expired",
	})
}
