package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	BotAPIKey         string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// サービス
	AuthService       AuthServiceInterface
	UserService       UserServiceInterface
	EventService      EventServiceInterface
	AttendanceService AttendanceServiceInterface
	IdentityService   IdentityServiceInterface
	RegistryService   RegistryServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → (BearerAuth | BotKey) → RateLimit(General)
//
// 出席登録のエンドポイントにはさらに出席登録専用のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService, deps.EventService)
	eventHandler := NewEventHandler(deps.EventService, deps.AttendanceService)
	discordHandler := NewDiscordHandler(deps.IdentityService, deps.RegistryService, deps.EventService, deps.AttendanceService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// --- トークン認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Get("/me", userHandler.Me)
			r.Put("/me", userHandler.UpdateMe)
			r.Get("/me/events", userHandler.MyEvents)
			r.Get("/{id}", userHandler.Get)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
			r.Get("/upcoming", eventHandler.Upcoming)
			r.Get("/ongoing", eventHandler.Ongoing)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", eventHandler.Get)
				r.Put("/", eventHandler.Update)
				r.Get("/status", eventHandler.Status)
				r.With(deps.RateLimiter.AttendMiddleware()).Post("/attend", eventHandler.Attend)
				r.Get("/attendees", eventHandler.Attendees)
				r.Get("/check-attendance", eventHandler.CheckAttendance)
			})
		})
	})

	// --- ボット向けルート ---
	// ミドルウェアスタック: BotKey → RateLimit(General)
	r.Route("/discord", func(r chi.Router) {
		r.Use(middleware.NewBotKeyMiddleware(deps.BotAPIKey))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/users", func(r chi.Router) {
			r.Post("/register", discordHandler.Register)
			r.Get("/list", discordHandler.ListUsers)
			r.Get("/name-available", discordHandler.NameAvailable)
			r.Get("/{discord_user_id}", discordHandler.GetUser)
			r.Put("/{discord_user_id}/name", discordHandler.SetName)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/create", discordHandler.CreateEvent)
			r.Get("/active", discordHandler.ActiveEvents)
			r.Get("/upcoming", discordHandler.UpcomingEvents)
			r.Get("/channel/{channel_id}", discordHandler.ChannelEvents)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AttendMiddleware())
			r.Post("/attend/auto", discordHandler.AttendAuto)
			r.Post("/attend/{event_id}", discordHandler.Attend)
			r.Post("/admin/attend-for-user", discordHandler.AttendForUser)
		})

		r.Get("/attendance/{discord_user_id}", discordHandler.AttendanceHistory)
		r.Get("/event/{event_id}/status", discordHandler.EventStatus)
		r.Get("/event/{event_id}/attendees", discordHandler.EventAttendees)

		r.Post("/admin/make-admin", discordHandler.MakeAdmin)
		r.Post("/admin/check-admin", discordHandler.CheckAdmin)
	})

	return r
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// healthHandler はDB疎通を含むヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
	}
}
