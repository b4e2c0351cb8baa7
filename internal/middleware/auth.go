// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/attendly/internal/model"
)

// BotKeyHeader はBot向けルートの共有キーを送るヘッダー名。
const BotKeyHeader = "X-Bot-Key"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey   = contextKey("user_id")
	userContextKey     = contextKey("user")
	// userSlotContextKey は外側のミドルウェアが内側で認証されたユーザーIDを参照するためのキー。
	userSlotContextKey = contextKey("user_slot")
)

// userSlot はリクエスト単位で認証済みユーザーIDを受け渡す。
type userSlot struct {
	userID string
}

func withUserSlot(ctx context.Context) (context.Context, *userSlot) {
	slot := &userSlot{}
	return context.WithValue(ctx, userSlotContextKey, slot), slot
}

// TokenAuthenticator はアクセストークンからユーザーを解決するインターフェース。
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// NewBearerAuthMiddleware はAuthorization: Bearerヘッダーのトークンを検証するミドルウェアを返す。
// 認証済みユーザーとユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewBearerAuthMiddleware(authenticator TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "Bearer")
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil || user == nil {
				if err != nil {
					slog.Debug("bearer authentication failed",
						slog.String("error", err.Error()),
					)
				}
				writeUnauthorized(w, "Bearer")
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewBotKeyMiddleware はBot向けルートの共有キーを検証するミドルウェアを返す。
// apiKeyが空の場合は検証しない。
func NewBotKeyMiddleware(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		expected := []byte(apiKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := []byte(r.Header.Get(BotKeyHeader))
			if subtle.ConstantTimeCompare(supplied, expected) != 1 {
				slog.Warn("bot key rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeUnauthorized(w, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, scheme string) {
	if scheme != "" {
		w.Header().Set("WWW-Authenticate", scheme)
	}
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     model.ErrCodeUnauthorized,
		Message:  "Could not validate credentials",
		Category: "auth",
		Action:   "Log in again and retry with a valid token.",
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if slot, ok := ctx.Value(userSlotContextKey).(*userSlot); ok {
		slot.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithUser はコンテキストに認証済みユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return ContextWithUserID(ctx, user.ID)
}
