// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/auth"
	"github.com/hitoshi/attendly/internal/config"
	"github.com/hitoshi/attendly/internal/database"
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/handler"
	"github.com/hitoshi/attendly/internal/identity"
	"github.com/hitoshi/attendly/internal/logger"
	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/notify"
	"github.com/hitoshi/attendly/internal/repository"
	"github.com/hitoshi/attendly/internal/security"
	"github.com/hitoshi/attendly/internal/user"
	"github.com/hitoshi/attendly/internal/worker/announce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// compile-time interface check
var _ announce.EventNotifier = (*notify.DiscordNotifier)(nil)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定された場合に備えて再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("notifications", cfg.NotificationsEnabled()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv.Migrate)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newNotifier はDiscord通知クライアントを生成する。
// 送信先はDISCORD_API_BASEのホストに限定し、HTTPS以外やプライベートIPへの接続は拒否する。
func newNotifier(cfg *config.Config, collector metrics.MetricsCollector) (*notify.DiscordNotifier, error) {
	base, err := url.Parse(cfg.DiscordAPIBase)
	if err != nil {
		return nil, fmt.Errorf("invalid DISCORD_API_BASE: %w", err)
	}
	guard := security.NewOutboundGuard(base.Hostname())
	if cfg.NotificationsEnabled() {
		if err := guard.ValidateURL(cfg.DiscordAPIBase); err != nil {
			return nil, fmt.Errorf("invalid DISCORD_API_BASE: %w", err)
		}
	}

	return notify.NewDiscordNotifier(
		guard.Client(cfg.NotifyTimeout),
		notify.Config{
			BotToken:         cfg.DiscordBotToken,
			APIBase:          cfg.DiscordAPIBase,
			DefaultChannelID: cfg.DiscordDefaultChannelID,
		},
		collector,
		slog.Default(),
	), nil
}

// rateLimiterConfig は設定値（req/min）からレート制限設定（req/sec）を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAttend > 0 {
		rlCfg.AttendRate = rate.Limit(float64(cfg.RateLimitAttend) / 60.0)
		rlCfg.AttendBurst = cfg.RateLimitAttend
	}
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "attendly"),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	attendanceRepo := repository.NewPostgresAttendanceRepo(db)

	// 4. セキュリティサービスの初期化
	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	tokens := security.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	sanitizer := security.NewTextSanitizer()

	notifier, err := newNotifier(cfg, collector)
	if err != nil {
		return err
	}

	// 5. ドメインサービスの初期化
	authService := auth.NewService(userRepo, hasher, tokens, sanitizer)
	userService := user.NewService(userRepo, cfg.AdminSecret, sanitizer, collector, slog.Default())
	eventService := event.NewService(eventRepo, attendanceRepo, userRepo, sanitizer, nil, slog.Default())
	reconciler := identity.NewReconciler(userRepo, hasher, sanitizer, collector, slog.Default())
	coordinator := attendance.NewCoordinator(
		eventRepo, attendanceRepo, userRepo, notifier, collector, slog.Default(),
		attendance.Config{NotifyTimeout: cfg.NotifyTimeout},
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		BotAPIKey:         cfg.BotAPIKey,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService:       authService,
		UserService:       userService,
		EventService:      eventService,
		AttendanceService: coordinator,
		IdentityService:   reconciler,
		RegistryService:   userService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.BotAPIKey == "" {
		slog.Warn("BOT_API_KEY is not set; /discord routes accept unauthenticated requests")
	}
	if cfg.UsesDefaultAdminSecret() {
		slog.Warn("ADMIN_SECRET is not set; the default promotion secret is in use")
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 送信中の代理出席通知を待つ
	coordinator.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、イベント開始通知ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 通知クライアントの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	notifier, err := newNotifier(cfg, collector)
	if err != nil {
		return err
	}
	if !notifier.Enabled() {
		slog.Warn("DISCORD_BOT_TOKEN is not set; event announcements are disabled")
	}

	// 3. ジョブの初期化
	announcer := announce.NewAnnouncer(
		repository.NewPostgresEventRepo(db), notifier, slog.Default(), nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("announce_interval", cfg.AnnounceInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	announcer.Start(ctx, cfg.AnnounceInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upは未適用分をすべて適用し、downはすべて巻き戻す。versionは現在のバージョンを記録するのみ。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case MigrateVersion:
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database schema version",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// コンテナのヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
