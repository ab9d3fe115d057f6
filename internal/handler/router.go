package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認を行う依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer
	StatusRecorder  middleware.StatusRecorder
	Logger          *slog.Logger
	RequestTimeout  time.Duration

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ドメインサービス
	UserService       UserServiceInterface
	GraphService      GraphServiceInterface
	PostService       PostServiceInterface
	EngagementService EngagementServiceInterface
	TimelineService   TimelineServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → Metrics → CORS → Timeout
//	  → (認証ルートのみ) SessionMiddleware → RateLimit(General) → RateLimit(Mutation, 更新系のみ)
//
// /health、/metrics、ユーザー登録と参照は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}

	userHandler := NewUserHandler(deps.UserService, deps.GraphService)
	postHandler := NewPostHandler(deps.PostService, deps.EngagementService)
	timelineHandler := NewTimelineHandler(deps.TimelineService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Post("/api/users", userHandler.Register)
	r.Get("/api/users", userHandler.ListUsers)
	r.Get("/api/users/{id}", userHandler.GetUser)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		mutation := deps.RateLimiter.MutationMiddleware()

		// ユーザー・フォロー関係
		r.With(mutation).Patch("/api/users/me", userHandler.UpdateMe)
		r.With(mutation).Put("/api/users/{id}/follow", userHandler.Follow)
		r.With(mutation).Delete("/api/users/{id}/follow", userHandler.Unfollow)
		r.Get("/api/users/{id}/following", userHandler.Following)
		r.Get("/api/users/{id}/followers", userHandler.Followers)
		r.Get("/api/users/{id}/posts", postHandler.ListUserPosts)

		// タイムライン
		r.Get("/api/timeline", timelineHandler.GetTimeline)

		// 投稿
		r.Route("/api/posts", func(r chi.Router) {
			r.Get("/", postHandler.ListAdminPosts)
			r.With(mutation).Post("/", postHandler.CreatePost)
			r.With(mutation).Post("/multiple", postHandler.CreateMany)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.GetPost)
				r.With(mutation).Patch("/", postHandler.UpdatePost)
				r.With(mutation).Delete("/", postHandler.DeletePost)
				r.With(mutation).Put("/like", postHandler.Like)
				r.With(mutation).Delete("/like", postHandler.Unlike)
			})
		})
	})

	return r
}

// healthResponse は/healthのJSONレスポンス構造。
type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// checkerがnilの場合はプロセスの生存のみを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
