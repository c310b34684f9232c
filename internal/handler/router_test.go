package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/birthday-portal/internal/auth"
	"github.com/hitoshi/birthday-portal/internal/experience"
	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// --- モック定義 ---

type mockSessionFinderForRouter struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinderForRouter) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

type mockAdminCheckerForRouter struct {
	admins map[string]bool
}

func (m *mockAdminCheckerForRouter) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return m.admins[userID], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

type testRouter struct {
	handler http.Handler
	health  *mockHealthChecker
	tokens  *auth.ViewerTokens
	limiter *middleware.RateLimiter
}

// newTestRouter はテスト用の完全なルーターを構築するヘルパー。
func newTestRouter(t *testing.T) *testRouter {
	t.Helper()

	health := &mockHealthChecker{}
	tokens := auth.NewViewerTokens("router-test-secret")
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	deps := &RouterDeps{
		HealthChecker: health,
		SessionFinder: &mockSessionFinderForRouter{
			sessions: map[string]*model.Session{
				"admin-session":  {ID: "admin-session", UserID: "admin-1", ExpiresAt: time.Now().Add(time.Hour)},
				"viewer-session": {ID: "viewer-session", UserID: "user-2", ExpiresAt: time.Now().Add(time.Hour)},
			},
		},
		AdminChecker:      &mockAdminCheckerForRouter{admins: map[string]bool{"admin-1": true}},
		ViewerTokenParser: tokens,
		RateLimiter:       limiter,
		CORSAllowedOrigin: "https://birthday.example.com",
		CSRFConfig:        middleware.CSRFConfig{},

		MetricsCollector: collector,
		Gatherer:         reg,

		AuthService: &mockAuthService{
			getLoginURLFn: func(state string) string {
				return "https://accounts.google.com?state=" + state
			},
		},
		AuthConfig: AuthHandlerConfig{BaseURL: "http://localhost:3000/admin", SessionMaxAge: 86400},

		Gate: &mockAccessVerifier{
			verifyFn: func(ctx context.Context, slug, password string) (*model.Recipient, error) {
				if slug == "aiko-x7k2" && password == "cake" {
					return testRecipient(), nil
				}
				return nil, model.ErrInvalidCredentials
			},
		},
		Sessions:     &mockSessionStarter{ttl: time.Hour},
		ViewerTokens: tokens,
		Experience: &mockExperienceService{
			stateFn: func(ctx context.Context, sessionID string) (*experience.State, error) {
				return stateAt(0, experience.StepCountdown), nil
			},
		},
		Site: &mockSiteReader{
			getSiteFn: func(ctx context.Context) (*model.SiteConfig, error) {
				return &model.SiteConfig{ConfigKey: "default"}, nil
			},
		},

		Admin: &mockRecipientAdminService{
			createFn: func(ctx context.Context, adminID, name, password string) (*model.Recipient, error) {
				return &model.Recipient{ID: "r-new", Slug: "new-abcd"}, nil
			},
		},
		Events: newFakeSubscriber(),
	}

	return &testRouter{
		handler: NewRouter(deps),
		health:  health,
		tokens:  tokens,
		limiter: limiter,
	}
}

func (tr *testRouter) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestRouter_Health(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	tr.health.err = errors.New("db down")
	w = tr.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsExposesHTTPStatus(t *testing.T) {
	tr := newTestRouter(t)

	tr.do(httptest.NewRequest(http.MethodGet, "/api/site", nil))
	w := tr.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "birthday_http_status_total") {
		t.Error("metrics output should include birthday_http_status_total")
	}
}

func TestRouter_SecurityHeadersAndCORS(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/verify-recipient-password", nil)
	req.Header.Set("Origin", "https://birthday.example.com")
	w := tr.do(req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://birthday.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

// パスワード検証で得たトークンでそのslugの体験APIにアクセスできる。
func TestRouter_ViewerFlow(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/verify-recipient-password",
		strings.NewReader(`{"slug":"aiko-x7k2","password":"cake"}`))
	w := tr.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want %d", w.Code, http.StatusOK)
	}
	cookie := findResponseCookie(w.Result(), middleware.ViewerCookieName)
	if cookie == nil {
		t.Fatal("expected viewer cookie")
	}

	t.Run("cookie grants access to own slug", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/b/aiko-x7k2/experience", nil)
		req.AddCookie(cookie)
		if w := tr.do(req); w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("token does not open another slug", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/b/someone-else/experience", nil)
		req.Header.Set("Authorization", "Bearer "+cookie.Value)
		if w := tr.do(req); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("no token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/b/aiko-x7k2/experience", nil)
		if w := tr.do(req); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestRouter_AccessRateLimit(t *testing.T) {
	tr := newTestRouter(t)

	var last int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/verify-recipient-password",
			strings.NewReader(`{"slug":"aiko-x7k2","password":"wrong"}`))
		req.RemoteAddr = "203.0.113.9:40000"
		last = tr.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th attempt status = %d, want %d", last, http.StatusTooManyRequests)
	}
	if tr.limiter.AccessLimiterCount() != 1 {
		t.Errorf("AccessLimiterCount = %d, want 1", tr.limiter.AccessLimiterCount())
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	tr := newTestRouter(t)

	withSession := func(req *http.Request, id string) *http.Request {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: id})
		return req
	}

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
	}{
		{
			name: "no session",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/admin/recipients", nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "non-admin",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/admin/recipients", nil), "viewer-session")
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "admin list",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/admin/recipients", nil), "admin-session")
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "admin create without csrf",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodPost, "/api/admin/recipients",
					strings.NewReader(`{"recipient_name":"A","password":"abcd"}`)), "admin-session")
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "admin create with csrf",
			req: func() *http.Request {
				req := withSession(httptest.NewRequest(http.MethodPost, "/api/admin/recipients",
					strings.NewReader(`{"recipient_name":"A","password":"abcd"}`)), "admin-session")
				req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
				req.Header.Set("X-CSRF-Token", "tok")
				return req
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "uploads disabled",
			req: func() *http.Request {
				req := withSession(httptest.NewRequest(http.MethodPost, "/api/admin/uploads",
					strings.NewReader(`{"recipient_id":"r1","content_type":"image/png"}`)), "admin-session")
				req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
				req.Header.Set("X-CSRF-Token", "tok")
				return req
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := tr.do(tt.req()); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_AuthRoutesOutsideAdminChain(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}
