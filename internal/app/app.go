package app

import (
	"context"
	"errors"
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/asset"
	"github.com/hitoshi/studydesk/internal/auth"
	"github.com/hitoshi/studydesk/internal/booking"
	"github.com/hitoshi/studydesk/internal/config"
	"github.com/hitoshi/studydesk/internal/database"
	"github.com/hitoshi/studydesk/internal/handler"
	"github.com/hitoshi/studydesk/internal/logger"
	"github.com/hitoshi/studydesk/internal/metrics"
	"github.com/hitoshi/studydesk/internal/middleware"
	"github.com/hitoshi/studydesk/internal/payment"
	"github.com/hitoshi/studydesk/internal/repository"
	"github.com/hitoshi/studydesk/internal/security"
	"github.com/hitoshi/studydesk/internal/studysession"
	"github.com/hitoshi/studydesk/internal/user"
	"github.com/hitoshi/studydesk/internal/worker/cleanup"
	"github.com/hitoshi/studydesk/internal/worker/reconcile"
)

// 外部サービス呼び出しのタイムアウト
const (
	providerHTTPTimeout = 10 * time.Second
	paymentHTTPTimeout  = 30 * time.Second
	redisPingTimeout    = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
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
	cmd := ParseCommand(args)

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
		slog.Bool("payment_enabled", cfg.PaymentEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	studySessionRepo := repository.NewPostgresStudySessionRepo(db)
	bookingRepo := repository.NewPostgresBookingRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)
	assetRepo := repository.NewPostgresAssetRepo(db)
	assetRequestRepo := repository.NewPostgresAssetRequestRepo(db)

	// 3. セキュリティ・メトリクスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewDescriptionSanitizer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 認証プロバイダーの初期化
	provider, err := auth.NewFirebaseProvider(ctx, auth.FirebaseConfig{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		CredentialsJSON: cfg.FirebaseCredentialsJSON,
		APIKey:          cfg.FirebaseAPIKey,
		HTTPClient:      urlGuard.NewSafeClient(providerHTTPTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.IDTokenPublicKeyPEM != "" {
		jwtVerifier, err := auth.NewJWTVerifier(auth.JWTVerifierConfig{
			PublicKeyPEM: cfg.IDTokenPublicKeyPEM,
			Issuer:       cfg.IDTokenIssuer,
			Audience:     cfg.IDTokenAudience,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize ID token verifier: %w", err)
		}
		verifier = jwtVerifier
		slog.Info("ID tokens are verified with the configured public key")
	}

	// 5. ドメインサービスの初期化
	// Identity変更通知はauthとuserの両サービスから同じHubに配信する
	hub := auth.NewHub()
	authService := auth.NewService(provider, userRepo, sessionRepo, hub, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		Verifier:      verifier,
		URLGuard:      urlGuard,
	})
	userService := user.NewService(userRepo, sessionRepo, hub)
	studySessionService := studysession.NewService(studySessionRepo, sanitizer, urlGuard, nil)
	assetService := asset.NewService(assetRepo, assetRequestRepo, nil)

	idempotency, closeRedis, err := newIdempotencyGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	bookingService := booking.NewService(
		studySessionRepo, bookingRepo, paymentRepo, newPaymentProcessor(cfg),
		booking.ServiceConfig{
			Metrics:     collector,
			Idempotency: idempotency,
		},
	)

	// 6. アクセス制御レイヤーの初期化
	layer := access.NewLayer(
		middleware.NewSessionIdentityResolver(sessionRepo, userRepo),
		userService,
		authService,
		access.LayerConfig{Recorder: collector},
	)
	if err := layer.Init(); err != nil {
		return fmt.Errorf("failed to initialize access layer: %w", err)
	}
	defer layer.Teardown()

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		StatusRecorder:     collector,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:        cfg.CookieSecure,
		RateLimiter: rateLimiter,
		Access:      layer,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		StudySessionService: studySessionService,
		BookingService:      bookingService,
		AssetService:        assetService,
		UserService:         userService,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 決済確認の待ち時間を含む
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newPaymentProcessor は決済キーが設定されていればStripe、未設定なら常に失敗するProcessorを返す。
func newPaymentProcessor(cfg *config.Config) payment.Processor {
	if !cfg.PaymentEnabled() {
		slog.Warn("payment processor is not configured; paid purchases and refunds will be rejected")
		return payment.Disabled{}
	}
	return payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		Currency:   cfg.PaymentCurrency,
		APIURL:     cfg.StripeAPIURL,
		HTTPClient: &http.Client{Timeout: paymentHTTPTimeout},
	})
}

// newIdempotencyGuard はREDIS_URLが設定されていればRedisの冪等キーガードを生成する。
// 戻り値の関数でRedisクライアントを閉じる。
func newIdempotencyGuard(ctx context.Context, cfg *config.Config) (booking.IdempotencyGuard, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set; duplicate purchase submissions will not be detected")
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return booking.NewRedisIdempotencyGuard(client, cfg.IdempotencyTTL), closeFn, nil
}

// rateLimiterConfig はreq/min単位の設定値をレートリミッターの設定に変換する。
// バースト値は1分あたりの上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rc := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rc.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rc.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitPayment > 0 {
		rc.PaymentRate = rate.Limit(float64(cfg.RateLimitPayment) / 60.0)
		rc.PaymentBurst = cfg.RateLimitPayment
	}
	if cfg.RateLimitAuth > 0 {
		rc.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rc.AuthBurst = cfg.RateLimitAuth
	}
	return rc
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除と、支払いレコードのない予約の検出を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 孤立予約の検出に使う予約サービス（課金は行わない）
	bookingService := booking.NewService(
		repository.NewPostgresStudySessionRepo(db),
		repository.NewPostgresBookingRepo(db),
		repository.NewPostgresPaymentRepo(db),
		payment.Disabled{},
		booking.ServiceConfig{},
	)

	// 3. ジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	scheduler := reconcile.NewScheduler(bookingService, slog.Default(), reconcile.Config{
		Threshold: cfg.OrphanThreshold,
		Limit:     cfg.OrphanScanLimit,
	})

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	// クリーンアップジョブをバックグラウンドで実行
	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	}()

	// 孤立予約の検出をメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ReconcileInterval)
	<-done

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

	slog.Info("database migrations completed successfully")
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
