package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pricewatch/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver      middleware.UserResolver
	RateLimiter   *middleware.RateLimiter
	AdminAPIToken string
	Logger        *slog.Logger

	// 監視
	WatchService WatchServiceInterface

	// クロール
	CrawlTrigger CrawlTriggerInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → ChatAuthMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// /health、/metrics、/api/admin/* は認証ミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	watchHandler := NewWatchHandler(deps.WatchService)
	crawlHandler := NewCrawlHandler(deps.CrawlTrigger)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 管理ルート（Bearerトークン認証）
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminAPIToken))
		r.Post("/api/admin/crawl", crawlHandler.TriggerCrawl)
	})

	// --- チャット認証が必要なルート ---
	// ミドルウェアスタック: ChatAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewChatAuthMiddleware(deps.Resolver, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 監視管理
		r.Route("/api/watches", func(r chi.Router) {
			// POST /api/watches - 監視登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.WatchRegistrationMiddleware()).Post("/", watchHandler.RegisterWatch)

			r.Get("/", watchHandler.ListWatches)
			r.Delete("/{productID}", watchHandler.RemoveWatch)
		})

		// 価格履歴
		r.Get("/api/products/{id}/history", watchHandler.PriceHistory)
	})

	return r
}

// newHealthHandler はDB疎通確認付きのヘルスチェックハンドラーを返す。
// checkerがnilの場合はプロセス生存のみを報告する。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
