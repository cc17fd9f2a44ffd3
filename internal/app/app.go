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

	"github.com/hitoshi/ayurleaf/internal/chat"
	"github.com/hitoshi/ayurleaf/internal/config"
	"github.com/hitoshi/ayurleaf/internal/database"
	"github.com/hitoshi/ayurleaf/internal/handler"
	"github.com/hitoshi/ayurleaf/internal/logger"
	"github.com/hitoshi/ayurleaf/internal/metrics"
	"github.com/hitoshi/ayurleaf/internal/middleware"
	"github.com/hitoshi/ayurleaf/internal/otp"
	"github.com/hitoshi/ayurleaf/internal/plant"
	"github.com/hitoshi/ayurleaf/internal/repository"
	"github.com/hitoshi/ayurleaf/internal/security"
	"github.com/hitoshi/ayurleaf/internal/session"
	"github.com/hitoshi/ayurleaf/internal/worker/cleanup"
)

// geminiMaxResponseBytes は生成APIのレスポンスボディの上限。
const geminiMaxResponseBytes = 2 << 20

// Init はアプリケーションの初期化を行う。
// 環境変数（と任意の設定ファイル）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, configFile string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定を読み込む
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefaultLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// sessionBackend はDATABASE_URLの有無に応じてセッションの永続化先を返す。
// closeはDB接続を閉じる関数で、メモリ構成の場合は何もしない。
type sessionBackend struct {
	backend session.Backend
	deleter cleanup.ExpiredDeleter
	health  handler.HealthChecker
	close   func() error
}

func openSessionBackend(cfg *config.Config) (*sessionBackend, error) {
	if cfg.DatabaseURL == "" {
		mem := session.NewMemoryBackend()
		slog.Info("using in-memory session backend")
		return &sessionBackend{
			backend: mem,
			deleter: mem,
			close:   func() error { return nil },
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)

	repo := repository.NewPostgresSessionRepo(db)
	return &sessionBackend{
		backend: repo,
		deleter: repo,
		health:  db,
		close:   db.Close,
	}, nil
}

// newNotifier はOTP_DELIVERYに応じた配送チャネルを非同期キューで包んで返す。
func newNotifier(cfg *config.Config) *session.AsyncNotifier {
	var next session.Notifier
	switch cfg.OTPDelivery {
	case "smtp":
		next = session.NewSMTPNotifier(session.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
		}, slog.Default())
	default:
		next = session.NewLogNotifier(slog.Default())
	}
	return session.NewAsyncNotifier(next, cfg.OTPQueueSize, slog.Default())
}

// newChatService は生成APIクライアントとチャットサービスを構築する。
// エンドポイントが内部ネットワークを指している場合はエラーを返す。
func newChatService(cfg *config.Config) (*chat.Service, error) {
	guard := security.NewOutboundGuard()
	if err := guard.ValidateEndpoint(cfg.GeminiEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gemini endpoint: %w", err)
	}

	client := chat.NewClient(
		guard.NewSafeClient(cfg.GeminiTimeout, geminiMaxResponseBytes),
		chat.ClientConfig{
			Endpoint: cfg.GeminiEndpoint,
			Model:    cfg.GeminiModel,
			APIKey:   cfg.GeminiAPIKey,
		},
		slog.Default(),
	)
	if !client.HasAPIKey() {
		slog.Warn("GEMINI_API_KEY is not set; chat will answer with a configuration error")
	}

	return chat.NewService(client, security.NewMarkdownSanitizer(), slog.Default()), nil
}

// newRateLimiter はConfigからレート制限を構築する。
// RATE_LIMIT_GENERALはreq/min単位なのでreq/secに変換する。
func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.ChatCooldown = cfg.ChatCooldown
	return middleware.NewRateLimiter(rlCfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. セッションの永続化先
	sb, err := openSessionBackend(cfg)
	if err != nil {
		return err
	}
	defer sb.close()

	// 2. コード配送とセッション管理
	identifier := plant.NewIdentifier(plant.IdentifierConfig{
		Delay:    cfg.IdentifyDelay,
		MaxBytes: cfg.UploadMaxBytes,
	}, slog.Default())

	notifier := newNotifier(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.OTPDrainTimeout)
		defer cancel()
		if err := notifier.Close(ctx); err != nil {
			slog.Warn("otp notifier shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	sessions := session.NewManager(sb.backend, session.ManagerConfig{
		MaxAge:        time.Duration(cfg.SessionMaxAge) * time.Second,
		SweepInterval: cfg.SessionSweepInterval,
		Store: session.Config{
			Generator:         otp.FromSource(cfg.OTPRandomSource),
			Notifier:          notifier,
			PreferDisplayName: cfg.PreferDisplayName,
			Logger:            slog.Default(),
		},
		// メモリから外れたセッションの識別回数も破棄する
		OnEvict: identifier.Forget,
	})
	defer sessions.Stop()

	// メモリ構成ではworkerがいないため、期限切れレコードの削除をプロセス内で行う
	jobCtx, cancelJob := context.WithCancel(context.Background())
	defer cancelJob()
	if cfg.DatabaseURL == "" {
		job := cleanup.NewCleanupJob(sb.deleter, slog.Default())
		job.Grace = cfg.SessionRetention
		job.Interval = cfg.CleanupInterval
		go job.Start(jobCtx)
	}

	// 3. ドメインサービス
	chatService, err := newChatService(cfg)
	if err != nil {
		return err
	}

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	rateLimiter := newRateLimiter(cfg)
	defer rateLimiter.Stop()

	metrics.RegisterRuntimeGauges(reg, metrics.RuntimeStats{
		ActiveSessions:  sessions.Len,
		GeneralLimiters: rateLimiter.GeneralLimiterCount,
		ChatLimiters:    rateLimiter.ChatLimiterCount,
	})

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:   slog.Default(),
		Sessions: sessions,
		SessionConfig: middleware.SessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     sb.health,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		PlantIdentifier:   identifier,
		ChatService:       chatService,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeminiTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("persistent_sessions", cfg.DatabaseURL != ""),
			slog.String("otp_delivery", cfg.OTPDelivery),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("worker requires DATABASE_URL")
	}

	sb, err := openSessionBackend(cfg)
	if err != nil {
		return err
	}
	defer sb.close()

	job := cleanup.NewCleanupJob(sb.deleter, slog.Default())
	job.Grace = cfg.SessionRetention
	job.Interval = cfg.CleanupInterval

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("interval", job.Interval),
		slog.Duration("grace", job.Grace),
	)

	// ctxがキャンセルされるまでブロック
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
