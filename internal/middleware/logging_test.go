package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// serveLogged はhandlerをLoggingMiddleware越しに実行し、出力されたログ行を返す。
func serveLogged(t *testing.T, handler http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestLoggingMiddleware_RequestFields(t *testing.T) {
	entry := serveLogged(t, statusHandler(http.StatusCreated),
		httptest.NewRequest(http.MethodPost, "/api/events", nil))

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "POST" || entry["path"] != "/api/events" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if status, _ := entry["status"].(float64); status != http.StatusCreated {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want a non-negative number", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted for anonymous requests, got %v", entry["user_id"])
	}
}

func TestLoggingMiddleware_LevelAndSurface(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		status      int
		wantLevel   string
		wantSurface string
	}{
		{"トークンAPI成功", "/api/events/ongoing", http.StatusOK, "INFO", "api"},
		{"Bot未登録", "/discord/users/123", http.StatusNotFound, "WARN", "bot"},
		{"ログイン失敗", "/auth/login", http.StatusUnauthorized, "WARN", "auth"},
		{"ヘルスチェック異常", "/health", http.StatusServiceUnavailable, "ERROR", "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := serveLogged(t, statusHandler(tt.status), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["surface"] != tt.wantSurface {
				t.Errorf("surface = %v, want %s", entry["surface"], tt.wantSurface)
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitStatusAndBytes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})
	entry := serveLogged(t, handler, httptest.NewRequest(http.MethodGet, "/discord/events/active", nil))

	if status, _ := entry["status"].(float64); status != http.StatusOK {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if n, _ := entry["bytes"].(float64); n != float64(len(`{"success":true}`)) {
		t.Errorf("bytes = %v, want %d", entry["bytes"], len(`{"success":true}`))
	}
}

func TestLoggingMiddleware_UserID(t *testing.T) {
	t.Run("外側で注入済み", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "user-123"))

		entry := serveLogged(t, statusHandler(http.StatusOK), req)
		if entry["user_id"] != "user-123" {
			t.Errorf("user_id = %v, want user-123", entry["user_id"])
		}
	})

	t.Run("内側の認証ミドルウェアで解決", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req.Header.Set("Authorization", "Bearer good-token")

		inner := NewBearerAuthMiddleware(validTokenAuthenticator())(okHandler())
		entry := serveLogged(t, inner, req)
		if entry["user_id"] != "user-1" {
			t.Errorf("user_id = %v, want user-1", entry["user_id"])
		}
	})
}
