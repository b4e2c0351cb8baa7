package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// stubAuthenticator は"valid-token"のみを受け付けるTokenAuthenticator。
type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token != "valid-token" {
		return nil, model.NewInvalidCredentialsError()
	}
	return testMember, nil
}

// stubHealthChecker はPingContextの結果を固定で返す。
type stubHealthChecker struct{ err error }

func (s stubHealthChecker) PingContext(ctx context.Context) error { return s.err }

// newTestRouter はテスト用の依存を組み立ててルーターを生成する。
func newTestRouter(t *testing.T, mutate func(*RouterDeps)) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		Authenticator:     stubAuthenticator{},
		BotAPIKey:         "bot-secret",
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Metrics:           metrics.Nop{},
		AuthService:       &mockAuthService{},
		UserService: &mockUserService{
			meFn: func(ctx context.Context, userID string) (*model.User, error) {
				return testMember, nil
			},
		},
		EventService: &mockEventService{
			listOngoingFn: func(ctx context.Context) ([]*model.Event, error) {
				return []*model.Event{testEvent()}, nil
			},
		},
		AttendanceService: &mockAttendanceService{
			markAttendanceFn: func(ctx context.Context, ref attendance.UserRef, eventID string) (*attendance.Outcome, error) {
				return &attendance.Outcome{Kind: attendance.KindMarked, Message: "ok"}, nil
			},
		},
		IdentityService: &mockIdentityService{},
		RegistryService: &mockRegistryService{},
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps)
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name         string
		checker      HealthChecker
		wantStatus   int
		wantDatabase string
	}{
		{"チェッカー未設定", nil, http.StatusOK, ""},
		{"DB疎通あり", stubHealthChecker{}, http.StatusOK, "up"},
		{"DB疎通なし", stubHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, func(d *RouterDeps) { d.HealthChecker = tt.checker })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeBody[healthResponse](t, w); body.Database != tt.wantDatabase {
				t.Errorf("database = %q, want %q", body.Database, tt.wantDatabase)
			}
		})
	}
}

func TestRouter_SecurityHeadersOnEveryResponse(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_APIRequiresBearerToken(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"トークンなしは401", "", http.StatusUnauthorized},
		{"不正なトークンは401", "Bearer wrong", http.StatusUnauthorized},
		{"有効なトークンは200", "Bearer valid-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_DiscordRequiresBotKey(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"キーなしは401", "", http.StatusUnauthorized},
		{"キー不一致は401", "nope", http.StatusUnauthorized},
		{"キー一致は200", "bot-secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/discord/events/active", nil)
			if tt.key != "" {
				req.Header.Set(middleware.BotKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	t.Run("ハンドラー未設定なら404", func(t *testing.T) {
		router := newTestRouter(t, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("リクエストがHTTPメトリクスに記録される", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		router := newTestRouter(t, func(d *RouterDeps) {
			d.Metrics = collector
			d.MetricsHandler = metrics.Handler(reg)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "attendly_http_requests_total") {
			t.Error("metrics output should contain attendly_http_requests_total")
		}
	})
}

func TestRouter_AttendRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(100),
		GeneralBurst:    100,
		AttendRate:      rate.Every(time.Hour),
		AttendBurst:     1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	router := newTestRouter(t, func(d *RouterDeps) { d.RateLimiter = rl })

	attend := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/events/event-1/attend", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := attend(); got != http.StatusOK {
		t.Fatalf("first attend status = %d, want %d", got, http.StatusOK)
	}
	if got := attend(); got != http.StatusTooManyRequests {
		t.Errorf("second attend status = %d, want %d", got, http.StatusTooManyRequests)
	}

	// 出席登録の制限は他のAPIに影響しない
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("me status = %d, want %d", w.Code, http.StatusOK)
	}
}
