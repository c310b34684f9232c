package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/birthday-portal/internal/experience"
	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// ExperienceService は閲覧者の体験進行を扱うサービスインターフェース。
type ExperienceService interface {
	State(ctx context.Context, sessionID string) (*experience.State, error)
	Advance(ctx context.Context, sessionID string) (*experience.State, error)
	Retreat(ctx context.Context, sessionID string) (*experience.State, error)
	JumpTo(ctx context.Context, sessionID string, step experience.StepID) (*experience.State, error)
	SubmitQuiz(ctx context.Context, sessionID string, answers []int) (*experience.State, *experience.QuizResult, error)
	CompleteCake(ctx context.Context, sessionID string) (*experience.State, error)
	End(ctx context.Context, sessionID string) error
}

// ExperienceHandler は /api/b/{slug} 配下の体験APIのHTTPハンドラー。
// NewViewerMiddlewareの後に配置する。
type ExperienceHandler struct {
	service ExperienceService
	cookie  ViewerCookieConfig
}

// NewExperienceHandler はExperienceHandlerを生成する。
func NewExperienceHandler(service ExperienceService, cookie ViewerCookieConfig) *ExperienceHandler {
	return &ExperienceHandler{service: service, cookie: cookie}
}

type jumpRequest struct {
	Step experience.StepID `json:"step"`
}

type quizRequest struct {
	Answers []int `json:"answers"`
}

// Get は現在の体験状態を返す。
// GET /api/b/{slug}/experience
func (h *ExperienceHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.State)
}

// Advance は次のステップへ進む。誕生日前のカウントダウンでは409と現在の状態を返す。
// POST /api/b/{slug}/experience/advance
func (h *ExperienceHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.Advance)
}

// Retreat は前のステップへ戻る。
// POST /api/b/{slug}/experience/retreat
func (h *ExperienceHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.Retreat)
}

// Jump は指定ステップへ移動する。
// POST /api/b/{slug}/experience/jump
func (h *ExperienceHandler) Jump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Step == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Missing step",
		})
		return
	}
	h.run(w, r, func(ctx context.Context, id string) (*experience.State, error) {
		return h.service.JumpTo(ctx, id, req.Step)
	})
}

// SubmitQuiz はクイズの回答を採点して次へ進む。
// POST /api/b/{slug}/experience/quiz
func (h *ExperienceHandler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Invalid answers",
		})
		return
	}

	claims, ok := middleware.ViewerClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, nil, model.ErrViewerSessionNotFound)
		return
	}

	state, result, err := h.service.SubmitQuiz(r.Context(), claims.ID, req.Answers)
	if err != nil {
		h.writeError(w, r, state, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   state,
		"result":  result,
	})
}

// CompleteCake はケーキのお祝いを完了して次へ進む。
// POST /api/b/{slug}/experience/cake/complete
func (h *ExperienceHandler) CompleteCake(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.CompleteCake)
}

// Logout は閲覧セッションを終了し、Cookieを破棄する。
// POST /api/b/{slug}/logout
func (h *ExperienceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ViewerClaimsFromContext(r.Context())
	if ok {
		if err := h.service.End(r.Context(), claims.ID); err != nil {
			// セッションはTTLで消えるため、Cookieの破棄を優先する
			slog.Warn("閲覧セッションの終了に失敗しました",
				slog.String("session_id", claims.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	h.clearCookie(w, r)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *ExperienceHandler) run(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*experience.State, error)) {
	claims, ok := middleware.ViewerClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, nil, model.ErrViewerSessionNotFound)
		return
	}

	state, err := fn(r.Context(), claims.ID)
	if err != nil {
		h.writeError(w, r, state, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   state,
	})
}

// writeError は体験APIのエラーを閉じた状態集合に変換する。
func (h *ExperienceHandler) writeError(w http.ResponseWriter, r *http.Request, state *experience.State, err error) {
	switch {
	case errors.Is(err, model.ErrStepLocked):
		middleware.WriteJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "Locked until birthday",
			"state":   state,
		})
	case errors.Is(err, model.ErrStepNotAvailable):
		middleware.WriteJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "Step not available",
			"state":   state,
		})
	case errors.Is(err, model.ErrViewerSessionNotFound):
		h.clearCookie(w, r)
		middleware.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   "Session expired",
		})
	case errors.Is(err, model.ErrRecipientNotFound):
		h.clearCookie(w, r)
		middleware.WriteJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "Recipient not found",
		})
	default:
		slog.Error("体験状態の更新に失敗しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": msgServerError,
		})
	}
}

func (h *ExperienceHandler) clearCookie(w http.ResponseWriter, r *http.Request) {
	path := "/"
	if claims, ok := middleware.ViewerClaimsFromContext(r.Context()); ok {
		path = "/api/b/" + claims.Slug
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.ViewerCookieName,
		Value:    "",
		Path:     path,
		Domain:   h.cookie.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
