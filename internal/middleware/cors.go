package middleware

import (
	"net/http"
	"strings"
)

var (
	corsAllowedMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
	}, ", ")
	corsAllowedHeaders = strings.Join([]string{
		"Content-Type", "Authorization", BotKeyHeader,
	}, ", ")
)

// NewCORSMiddleware はallowedOriginからのブラウザアクセスを許可するミドルウェアを返す。
// allowedOriginが"*"の場合は任意のオリジンを許可する。空の場合はCORSヘッダーを付与しない。
// 資格情報はヘッダーで送るため、Access-Control-Allow-Credentialsは付与しない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !corsOriginAllowed(allowedOrigin, origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", allowedOrigin)

			// プリフライト
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func corsOriginAllowed(allowed, origin string) bool {
	if allowed == "" {
		return false
	}
	return allowed == "*" || strings.EqualFold(allowed, origin)
}
