// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/attendly/internal/auth"
	"github.com/hitoshi/attendly/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, handle, password string) (*auth.LoginResult, error)
}

// AuthHandler は直接登録ユーザーの登録・ログインのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// registerRequest は登録リクエストのボディ。
type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	DiscordUserID   string `json:"discord_user_id,omitempty"`
	DiscordUsername string `json:"discord_username,omitempty"`
}

// tokenResponse はログイン成功時のレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // 秒
}

// Register はユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		ExternalID:   req.DiscordUserID,
		ExternalName: req.DiscordUsername,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login は資格情報を検証しアクセストークンを発行する。
// 資格情報はHTTP Basic認証、またはフォームのusername/passwordで受け付ける。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	handle, password, ok := r.BasicAuth()
	if !ok {
		handle = r.PostFormValue("username")
		password = r.PostFormValue("password")
	}
	if handle == "" || password == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="attendly"`)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	}

	result, err := h.service.Login(r.Context(), handle, password)
	if err != nil {
		if mapAPIErrorCode(err) == model.ErrCodeInvalidCredentials {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   int64(result.ExpiresIn.Seconds()),
	})
}
