package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/realtime"
	"github.com/hitoshi/birthday-portal/internal/storage"
)

// HealthChecker はヘルスチェック対象の依存を表す。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	AdminChecker      middleware.AdminChecker
	ViewerTokenParser middleware.ViewerTokenParser
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool
	Logger            *slog.Logger

	// メトリクス（nilの場合は無効）
	MetricsCollector metrics.MetricsCollector
	Gatherer         prometheus.Gatherer

	// 管理者認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 閲覧者
	Gate         AccessVerifier
	Sessions     ViewerSessionStarter
	ViewerTokens ViewerTokenIssuer
	ViewerCookie ViewerCookieConfig
	Experience   ExperienceService
	Site         SiteReader

	// 管理画面
	Admin     RecipientAdminService
	Presigner storage.UploadPresigner
	Events    realtime.Subscriber
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// /api 配下は General レート制限、パスワード検証はさらに Access レート制限を通る。
// 管理API（/api/admin/*）は Session → RequireAdmin → CSRF の順に検証する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.MetricsCollector != nil {
		r.Use(metrics.StatusMiddleware(deps.MetricsCollector))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	accessHandler := NewAccessHandler(deps.Gate, deps.Sessions, deps.ViewerTokens, deps.ViewerCookie)
	experienceHandler := NewExperienceHandler(deps.Experience, deps.ViewerCookie)
	siteHandler := NewSiteHandler(deps.Site)
	adminHandler := NewAdminHandler(deps.Admin, deps.Presigner)
	eventsHandler := NewEventsHandler(deps.Events)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// パスワードゲート（総当たり対策の専用レート制限を追加）
		r.With(deps.RateLimiter.AccessMiddleware()).Post("/verify-recipient-password", accessHandler.VerifyPassword)

		// デフォルト体験
		r.Get("/site", siteHandler.Get)

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 閲覧トークンが必要なルート ---
		r.Route("/b/{slug}", func(r chi.Router) {
			r.Use(middleware.NewViewerMiddleware(deps.ViewerTokenParser))

			r.Route("/experience", func(r chi.Router) {
				r.Get("/", experienceHandler.Get)
				r.Post("/advance", experienceHandler.Advance)
				r.Post("/retreat", experienceHandler.Retreat)
				r.Post("/jump", experienceHandler.Jump)
				r.Post("/quiz", experienceHandler.SubmitQuiz)
				r.Post("/cake/complete", experienceHandler.CompleteCake)
			})
			r.Post("/logout", experienceHandler.Logout)
		})

		// --- 管理者のみのルート ---
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.NewRequireAdminMiddleware(deps.AdminChecker))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Route("/recipients", func(r chi.Router) {
				r.Get("/", adminHandler.ListRecipients)
				r.Post("/", adminHandler.CreateRecipient)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", adminHandler.GetRecipient)
					r.Patch("/", adminHandler.UpdateRecipient)
					r.Delete("/", adminHandler.DeleteRecipient)
					r.Get("/events", eventsHandler.RecipientEvents)
				})
			})
			r.Get("/events", eventsHandler.AllEvents)

			r.Post("/recipient-password", adminHandler.ChangePassword)
			r.Post("/uploads", adminHandler.CreateUpload)

			r.Get("/site", adminHandler.GetSite)
			r.Patch("/site", adminHandler.UpdateSite)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
