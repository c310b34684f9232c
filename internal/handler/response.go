package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/model"
)

// maxBodyBytes はリクエストボディの上限。手紙やメモリーのjsonbを含むため余裕を持たせる。
const maxBodyBytes = 1 << 20

// handleServiceError は管理APIのサービス層エラーを統一フォーマットに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if errors.Is(err, model.ErrRecipientNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecipientNotFoundError(""))
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードからHTTPステータスコードを決定する。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeRecipientNotFound, model.ErrCodeSiteNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidContent, model.ErrCodePasswordTooShort,
		model.ErrCodeInvalidUpload, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はボディをvにデコードする。ボディは maxBodyBytes までに制限する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// readBody は部分更新用にボディをそのまま読み取る。
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}
