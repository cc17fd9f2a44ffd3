package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ayurleaf/internal/metrics"
	"github.com/hitoshi/ayurleaf/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Sessions          middleware.SessionOpener
	SessionConfig     middleware.SessionConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック（nil可）
	HealthChecker HealthChecker
	// メトリクス（nil可）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ドメイン
	PlantIdentifier PlantIdentifier
	ChatService     ChatServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → StatusMetrics → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// /health と /metrics はセッションを発行しないようチェーンの外に配置する。
// チャット送信には追加でクールダウンを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(collector)
	plantHandler := NewPlantHandler(deps.PlantIdentifier, collector)
	chatHandler := NewChatHandler(deps.ChatService, collector)

	// --- セッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ブラウザセッションを伴うルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.SessionConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Post("/login", authHandler.Login)
			r.Post("/verify", authHandler.Verify)
			r.Post("/resend", authHandler.Resend)
			r.Post("/logout", authHandler.Logout)
		})

		// 植物識別
		r.Get("/api/plants", plantHandler.ListPlants)
		r.Post("/api/identify", plantHandler.Identify)
		r.Post("/api/models/compare", plantHandler.CompareModels)

		// チャット
		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/", chatHandler.Welcome)
			r.With(deps.RateLimiter.ChatCooldownMiddleware()).Post("/", chatHandler.Send)
		})
	})

	return r
}
