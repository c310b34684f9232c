package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/birthday-portal/internal/experience"
	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// SiteReader はルート用のデフォルト体験設定を取得する。
type SiteReader interface {
	GetSite(ctx context.Context) (*model.SiteConfig, error)
}

// SiteHandler はパスワード不要のデフォルト体験を返すHTTPハンドラー。
type SiteHandler struct {
	site SiteReader
	now  func() time.Time
}

// NewSiteHandler はSiteHandlerを生成する。
func NewSiteHandler(site SiteReader) *SiteHandler {
	return &SiteHandler{site: site, now: time.Now}
}

// Get はデフォルト体験の設定とステップ構成を返す。
// 進行位置はクライアント側で保持する。
// GET /api/site
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	sc, err := h.site.GetSite(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.now()
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"site":      sc,
		"steps":     experience.BuildSteps(sc.Content),
		"unlocked":  experience.IsUnlocked(sc.Content, now),
		"countdown": experience.Countdown(sc.BirthdayDate, now),
	})
}
