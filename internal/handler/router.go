package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	StatusRecorder     middleware.HTTPStatusRecorder
	CORSAllowedOrigins []string
	CSRF               middleware.CSRFConfig
	HSTS               bool
	RateLimiter        *middleware.RateLimiter
	Access             *access.Layer

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメインサービス
	StudySessionService StudySessionServiceInterface
	BookingService      BookingServiceInterface
	AssetService        AssetServiceInterface
	UserService         UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF → Guard → RateLimit
//
// Guardはルートグループごとに必要なロールを指定して適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	sessionHandler := NewStudySessionHandler(deps.StudySessionService)
	bookingHandler := NewBookingHandler(deps.BookingService)
	assetHandler := NewAssetHandler(deps.AssetService)
	userHandler := NewUserHandler(deps.UserService)
	layer := deps.Access
	limiter := deps.RateLimiter

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.AuthAttemptMiddleware())
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signin/token", authHandler.SignInWithToken)
			r.Post("/reset-password", authHandler.ResetPassword)
		})
		r.Post("/signout", authHandler.SignOut)
		r.Get("/me", authHandler.Me)
	})

	r.Get("/api/sessions", sessionHandler.ListApproved)
	r.Get("/api/sessions/{id}", sessionHandler.Get)

	// --- ページ用ガード（リダイレクト） ---

	r.With(layer.RequirePage()).Get("/dashboard", layer.DashboardRedirect)
	for _, role := range access.AllRoles {
		path, _ := role.DashboardPath()
		r.With(layer.RequirePage(role)).Get(path, Dashboard)
	}

	// --- API用ガード（401/403） ---

	api := func(roles ...access.Role) func(r chi.Router) {
		return func(r chi.Router) {
			r.Use(layer.RequireAPI(roles...))
			r.Use(limiter.GeneralMiddleware())
		}
	}

	r.Group(func(r chi.Router) {
		api()(r)
		r.Patch("/api/users/me", authHandler.UpdateProfile)
	})

	r.Group(func(r chi.Router) {
		api(access.RoleStudent)(r)
		r.Get("/api/bookings", bookingHandler.ListBookings)
		r.Get("/api/payments", bookingHandler.ListPayments)

		// 課金を伴う操作は専用のレート制限を追加する
		r.Group(func(r chi.Router) {
			r.Use(limiter.PaymentMiddleware())
			r.Post("/api/sessions/{id}/purchase", bookingHandler.Purchase)
			r.Post("/api/sessions/{id}/book", bookingHandler.BookFree)
			r.Delete("/api/bookings/{id}", bookingHandler.Cancel)
		})
	})

	r.Route("/api/tutor/sessions", func(r chi.Router) {
		api(access.RoleTutor)(r)
		r.Post("/", sessionHandler.Create)
		r.Get("/", sessionHandler.ListMine)
		r.Patch("/{id}/fee", sessionHandler.UpdateFee)
		r.Post("/{id}/resubmit", sessionHandler.Resubmit)
	})

	r.Route("/api/admin", func(r chi.Router) {
		api(access.RoleAdmin)(r)
		r.Get("/sessions", sessionHandler.ListByStatus)
		r.Post("/sessions/{id}/approve", sessionHandler.Approve)
		r.Post("/sessions/{id}/reject", sessionHandler.Reject)
		r.Get("/users", userHandler.List)
		r.Put("/users/{id}/role", userHandler.ChangeRole)
	})

	r.Group(func(r chi.Router) {
		api(access.RoleEmployee)(r)
		r.Get("/api/assets", assetHandler.List)
		r.Post("/api/assets/{id}/requests", assetHandler.Request)
		r.Get("/api/asset-requests/mine", assetHandler.ListMine)
		r.Post("/api/asset-requests/{id}/return", assetHandler.Return)
	})

	r.Route("/api/hr", func(r chi.Router) {
		api(access.RoleHR)(r)
		r.Post("/assets", assetHandler.Create)
		r.Get("/asset-requests", assetHandler.ListRequests)
		r.Post("/asset-requests/{id}/approve", assetHandler.Approve)
		r.Post("/asset-requests/{id}/reject", assetHandler.Reject)
	})

	return r
}
