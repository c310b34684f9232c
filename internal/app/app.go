package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/birthday-portal/internal/auth"
	"github.com/hitoshi/birthday-portal/internal/config"
	"github.com/hitoshi/birthday-portal/internal/content"
	"github.com/hitoshi/birthday-portal/internal/database"
	"github.com/hitoshi/birthday-portal/internal/experience"
	"github.com/hitoshi/birthday-portal/internal/gate"
	"github.com/hitoshi/birthday-portal/internal/handler"
	"github.com/hitoshi/birthday-portal/internal/logger"
	"github.com/hitoshi/birthday-portal/internal/metrics"
	"github.com/hitoshi/birthday-portal/internal/middleware"
	"github.com/hitoshi/birthday-portal/internal/passhash"
	"github.com/hitoshi/birthday-portal/internal/realtime"
	"github.com/hitoshi/birthday-portal/internal/recipient"
	"github.com/hitoshi/birthday-portal/internal/repository"
	"github.com/hitoshi/birthday-portal/internal/security"
	"github.com/hitoshi/birthday-portal/internal/storage"
	"github.com/hitoshi/birthday-portal/internal/worker/cleanup"
)

// hubCapacity は変更通知の購読者ごとのバッファサイズ。
const hubCapacity = 16

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envで未設定の環境変数を補い、設定を読み込む
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	// .envで指定されたLOG_LEVELを反映する
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
	}
}

// runServe はAPIサーバーモードで起動する。
// DBとRedisに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Redis接続（閲覧セッション、設定キャッシュ、変更通知）
	rdb, err := database.NewRedis(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	recipientRepo := repository.NewPostgresRecipientRepo(db)
	siteRepo := repository.NewPostgresSiteConfigRepo(db)
	viewerSessions := repository.NewRedisViewerSessionStore(rdb)
	recipientCache := repository.NewRedisRecipientCache(rdb, cfg.ViewerSessionTTL)

	// 4. メトリクスと変更通知
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	hub := realtime.NewHub(rdb, hubCapacity)
	collector.RegisterSubscriberGauge(func() float64 { return float64(hub.Subscribers()) })
	collector.RegisterDroppedEventsCounter(func() float64 { return float64(hub.Dropped()) })
	go func() {
		if err := hub.Run(ctx); err != nil {
			slog.Error("realtime hub stopped", slog.String("error", err.Error()))
		}
	}()

	// 5. セキュリティサービスの初期化
	hasher, err := passhash.NewHasher(passhash.Params{
		Time:      cfg.Argon2Time,
		MemoryKiB: cfg.Argon2MemoryKiB,
		Threads:   cfg.Argon2Threads,
		SaltLen:   passhash.DefaultParams().SaltLen,
		KeyLen:    passhash.DefaultParams().KeyLen,
	})
	if err != nil {
		return fmt.Errorf("failed to create password hasher: %w", err)
	}
	parser, err := content.NewParser(
		security.NewContentSanitizer(),
		security.NewMediaURLPolicy(cfg.MediaRequireHTTPS),
	)
	if err != nil {
		return fmt.Errorf("failed to create content parser: %w", err)
	}
	viewerTokens := auth.NewViewerTokens(cfg.ViewerTokenSecret)

	// 6. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HostedDomain: cfg.GoogleHostedDomain,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo, roleRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge, AdminEmails: cfg.AdminEmails},
	)

	accessGate := gate.NewGate(recipientRepo, hasher, collector)
	experienceService := experience.NewService(viewerSessions, recipientCache, recipientRepo, collector, cfg.ViewerSessionTTL)
	recipientService := recipient.NewService(recipientRepo, siteRepo, recipientCache, hub, parser, hasher, collector)

	// 7. メディアアップロード（S3設定がある場合のみ）
	var presigner storage.UploadPresigner
	if cfg.UploadsEnabled() {
		p, err := storage.NewPresigner(ctx, storage.Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			PublicBaseURL:  cfg.MediaPublicURL,
			PresignExpires: cfg.UploadURLExpires,
		})
		if err != nil {
			return fmt.Errorf("failed to create upload presigner: %w", err)
		}
		presigner = p
	} else {
		slog.Info("S3_BUCKET is not set; media uploads are disabled")
	}

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	viewerCookie := handler.ViewerCookieConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		AdminChecker:      authService,
		ViewerTokenParser: viewerTokens,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:   cfg.CookieSecure,
		Logger: slog.Default(),

		MetricsCollector: collector,
		Gatherer:         reg,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Gate:         accessGate,
		Sessions:     experienceService,
		ViewerTokens: viewerTokens,
		ViewerCookie: viewerCookie,
		Experience:   experienceService,
		Site:         recipientService,

		Admin:     recipientService,
		Presigner: presigner,
		Events:    hub,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	// SSEはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れの管理者セッションを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())
	cleanupJob.Interval = cfg.SessionCleanup

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupJob.Interval),
	)

	// ctxがキャンセルされるまでブロックする
	cleanupJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(v.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// dbPool は設定からコネクションプール設定を組み立てる。
func dbPool(cfg *config.Config) database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// rateLimiterConfig はreq/min単位の設定をreq/secのトークンバケット設定に変換する。
// 0以下の値はその制限を無効にする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rc := middleware.DefaultRateLimiterConfig()
	rc.GeneralRate = rate.Limit(float64(max(cfg.RateLimitGeneral, 0)) / 60.0)
	rc.GeneralBurst = max(cfg.RateLimitGeneral, 0)
	rc.AccessRate = rate.Limit(float64(max(cfg.RateLimitAccess, 0)) / 60.0)
	rc.AccessBurst = max(cfg.RateLimitAccess, 0)
	return rc
}
