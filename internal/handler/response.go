package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/model"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeInvalidRequest はリクエストボディの解析失敗を返す。
func writeInvalidRequest(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "Failed to parse request body.",
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	})
}

// writeUnauthorized は認証情報がない場合のレスポンスを返す。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     model.ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Log in and retry with a bearer token.",
	})
}

// decodeJSON はリクエストボディをdstにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeInvalidRequest(w)
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserNotFound, model.ErrCodeNotRegistered, model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeEventInactive:
		return http.StatusNotFound
	case model.ErrCodeNoOngoingEvent, model.ErrCodeMultipleOngoingEvents:
		return http.StatusConflict
	case model.ErrCodeDuplicateName, model.ErrCodeDuplicateEmail:
		return http.StatusConflict
	case model.ErrCodeInvalidInput, model.ErrCodeInvalidEventWindow:
		return http.StatusBadRequest
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidCredentials, model.ErrCodeUserInactive:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// parsePagination はskip/limitクエリパラメータを解析する。
// 不正な値は既定値に丸める。
func parsePagination(r *http.Request) (offset, limit int) {
	offset, limit = 0, defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v > 0 {
		offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	return offset, limit
}

// mapAPIErrorCode はerrがAPIErrorの場合にそのコードを返す。
func mapAPIErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
