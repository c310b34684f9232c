package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/storage"
)

// RecipientAdminService は管理画面のCMS操作を提供するサービスインターフェース。
type RecipientAdminService interface {
	Create(ctx context.Context, adminID, name, password string) (*model.Recipient, error)
	List(ctx context.Context) ([]model.RecipientSummary, error)
	Get(ctx context.Context, id string) (*model.Recipient, error)
	Update(ctx context.Context, id string, body []byte) (*model.Recipient, error)
	Delete(ctx context.Context, id string) error
	ChangePassword(ctx context.Context, id, newPassword string) error
	GetSite(ctx context.Context) (*model.SiteConfig, error)
	UpdateSite(ctx context.Context, body []byte) (*model.SiteConfig, error)
}

// AdminHandler は管理者向けCMSのHTTPハンドラー。
type AdminHandler struct {
	service RecipientAdminService
	uploads storage.UploadPresigner // nilの場合アップロードは無効
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service RecipientAdminService, uploads storage.UploadPresigner) *AdminHandler {
	return &AdminHandler{service: service, uploads: uploads}
}

type createRecipientRequest struct {
	RecipientName string `json:"recipient_name"`
	Password      string `json:"password"`
}

type changePasswordRequest struct {
	RecipientID string `json:"recipientId"`
	NewPassword string `json:"newPassword"`
}

type uploadRequest struct {
	RecipientID string `json:"recipient_id"`
	ContentType string `json:"content_type"`
}

// ListRecipients は受け取り手の一覧を返す。
// GET /api/admin/recipients
func (h *AdminHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"recipients": list})
}

// CreateRecipient は名前と初期パスワードから受け取り手を作成する。
// POST /api/admin/recipients
func (h *AdminHandler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createRecipientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	rec, err := h.service.Create(r.Context(), adminID, req.RecipientName, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rec)
}

// GetRecipient は受け取り手の設定を返す。
// GET /api/admin/recipients/{id}
func (h *AdminHandler) GetRecipient(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// UpdateRecipient は受け取り手の設定を部分更新する。
// PATCH /api/admin/recipients/{id}
func (h *AdminHandler) UpdateRecipient(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	rec, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// DeleteRecipient は受け取り手を削除する。
// DELETE /api/admin/recipients/{id}
func (h *AdminHandler) DeleteRecipient(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword は受け取り手のパスワードを変更する。
// レスポンスは {success, error?} 形式。
// POST /api/admin/recipient-password
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   model.NewInvalidRequestError().Message,
		})
		return
	}

	err := h.service.ChangePassword(r.Context(), req.RecipientID, req.NewPassword)
	if err == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteJSON(w, mapAPIErrorToHTTPStatus(apiErr), map[string]any{
			"success": false,
			"error":   apiErr.Message,
		})
		return
	}
	slog.Error("failed to change recipient password",
		slog.String("recipient_id", req.RecipientID),
		slog.String("error", err.Error()),
	)
	middleware.WriteJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   msgServerError,
	})
}

// CreateUpload はメディアを直接アップロードするための署名付きURLを発行する。
// POST /api/admin/uploads
func (h *AdminHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "UPLOADS_DISABLED",
			Message:  "メディアのアップロードは設定されていません。",
			Category: "system",
			Action:   "メディアのURLを直接入力してください。",
		})
		return
	}

	var req uploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 存在しない受け取り手のキーは発行しない
	if _, err := h.service.Get(r.Context(), req.RecipientID); err != nil {
		handleServiceError(w, err)
		return
	}

	upload, err := h.uploads.PresignUpload(r.Context(), req.RecipientID, req.ContentType)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, upload)
}

// GetSite はデフォルトサイト設定を返す。
// GET /api/admin/site
func (h *AdminHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	sc, err := h.service.GetSite(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sc)
}

// UpdateSite はデフォルトサイト設定を部分更新する。
// PATCH /api/admin/site
func (h *AdminHandler) UpdateSite(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	sc, err := h.service.UpdateSite(r.Context(), body)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sc)
}
