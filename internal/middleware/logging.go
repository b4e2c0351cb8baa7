package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// responseRecorder は書き込まれたステータスコードとバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// requestSurface はパスからリクエストの入口（api, bot, auth, system）を判定する。
func requestSurface(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/"):
		return "api"
	case strings.HasPrefix(path, "/discord/"):
		return "bot"
	case strings.HasPrefix(path, "/auth/"):
		return "auth"
	default:
		return "system"
	}
}

// NewLoggingMiddleware はリクエストごとに1行のJSONログを出力するミドルウェアを返す。
// 5xxはError、4xxはWarn、それ以外はInfoで記録する。
// 内側の認証ミドルウェアで解決されたユーザーIDもuser_idとして記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			ctx, slot := withUserSlot(r.Context())
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.statusCode()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("surface", requestSurface(r.URL.Path)),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}

			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				userID = slot.userID
			}
			if userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
