package app

import (
	"context"
	"database/sql"
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
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/cache"
	"github.com/hitoshi/socialfeed/internal/config"
	"github.com/hitoshi/socialfeed/internal/database"
	"github.com/hitoshi/socialfeed/internal/engagement"
	"github.com/hitoshi/socialfeed/internal/graph"
	"github.com/hitoshi/socialfeed/internal/handler"
	"github.com/hitoshi/socialfeed/internal/logger"
	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/post"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/security"
	"github.com/hitoshi/socialfeed/internal/timeline"
	"github.com/hitoshi/socialfeed/internal/user"
	"github.com/hitoshi/socialfeed/internal/worker/cleanup"
	"github.com/hitoshi/socialfeed/internal/worker/reconcile"
)

const (
	defaultServerPort = "8800"
	shutdownTimeout   = 30 * time.Second
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

	// 3. 設定に従ってログレベルを反映する
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

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
			port = defaultServerPort
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
		slog.Bool("cache_enabled", cfg.CacheEnabled),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandReconcile:
		return runReconcileOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserve/workerで共有する依存関係。
type components struct {
	db          *sql.DB
	registry    *prometheus.Registry
	collector   *metrics.Collector
	cache       *cache.Aggregate
	closeCache  func() error
	userRepo    *repository.PostgresUserRepo
	postRepo    *repository.PostgresPostRepo
	sessionRepo *repository.PostgresSessionRepo
	invalidator *timeline.Invalidator
}

// openComponents はDB接続、メトリクス、キャッシュ、リポジトリを初期化する。
func openComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. キャッシュ
	agg, closeCache, err := newAggregate(ctx, cfg, collector)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 4. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)

	return &components{
		db:          db,
		registry:    reg,
		collector:   collector,
		cache:       agg,
		closeCache:  closeCache,
		userRepo:    userRepo,
		postRepo:    repository.NewPostgresPostRepo(db),
		sessionRepo: repository.NewPostgresSessionRepo(db),
		invalidator: timeline.NewInvalidator(agg, userRepo, slog.Default()),
	}, nil
}

func (c *components) Close() {
	if err := c.closeCache(); err != nil {
		slog.Warn("failed to close cache", slog.String("error", err.Error()))
	}
	c.db.Close()
}

// newAggregate はCACHE_ENABLEDとREDIS_URLに従ってAggregateキャッシュを構築する。
// REDIS_URLが空の場合はプロセス内メモリを使う。
// Redisに到達できなくても起動は継続し、キャッシュ操作はミスとして扱われる。
func newAggregate(ctx context.Context, cfg *config.Config, recorder cache.Recorder) (*cache.Aggregate, func() error, error) {
	noop := func() error { return nil }

	if !cfg.CacheEnabled {
		slog.Info("aggregate cache disabled")
		return cache.NewAggregate(nil, slog.Default(), cache.WithDisabled(), cache.WithRecorder(recorder)), noop, nil
	}

	if cfg.RedisURL == "" {
		slog.Info("aggregate cache using in-process memory store")
		store := cache.NewMemoryStore()
		return cache.NewAggregate(store, slog.Default(), cache.WithRecorder(recorder)), store.Close, nil
	}

	client, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure redis: %w", err)
	}
	store := cache.NewRedisStore(client)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		slog.Warn("redis is not reachable, cache will degrade to misses",
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("aggregate cache using redis")
	}

	return cache.NewAggregate(store, slog.Default(), cache.WithRecorder(recorder)), client.Close, nil
}

// newRouterDeps はドメインサービスを組み立て、ルーターの依存関係を返す。
func newRouterDeps(c *components, cfg *config.Config, rl *middleware.RateLimiter) *handler.RouterDeps {
	policy := cfg.RetryPolicy()
	log := slog.Default()

	validator := security.NewMediaURLValidator()
	sanitizer := security.NewTextSanitizer()

	graphService := graph.NewService(c.userRepo, c.invalidator, c.collector, policy, log)
	composer := timeline.NewComposer(graphService, c.postRepo, c.cache, cfg.TimelineCacheTTL, c.collector, policy, log)
	engagementService := engagement.NewService(c.postRepo, c.invalidator, c.collector, policy, log)
	postService := post.NewService(post.Deps{
		Posts:       c.postRepo,
		Users:       c.userRepo,
		Sanitizer:   sanitizer,
		Validator:   validator,
		Invalidator: c.invalidator,
		Cache:       c.cache,
		AdminTTL:    cfg.AdminPostsCacheTTL,
		Retry:       policy,
		Logger:      log,
	})
	userService := user.NewService(c.userRepo, validator, policy, log)

	return &handler.RouterDeps{
		HealthChecker:   c.db,
		MetricsGatherer: c.registry,
		StatusRecorder:  c.collector,
		Logger:          log,
		RequestTimeout:  cfg.RequestTimeout,

		SessionFinder:     c.sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,

		UserService:       userService,
		GraphService:      graphService,
		PostService:       postService,
		EngagementService: engagementService,
		TimelineService:   composer,
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer rl.Stop()

	router := handler.NewRouter(newRouterDeps(c, cfg, rl))

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server starting", slog.String("addr", server.Addr))
	return serveUntilDone(ctx, server)
}

// runWorker はワーカーモードで起動する。
// フォロー関係の整合性修復と期限切れセッションの削除を定期実行し、
// /healthと/metricsを提供する運用用HTTPサーバーを起動する。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	reconcileJob := reconcile.NewJob(
		c.userRepo, c.invalidator, c.collector,
		cfg.RetryPolicy(), slog.Default(), cfg.ReconcileBatchSize,
	)
	cleanupJob := cleanup.NewCleanupJob(c.sessionRepo, c.collector, slog.Default())

	mux := metrics.SetupMetricsRoute(c.registry)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := c.db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Int("reconcile_batch_size", cfg.ReconcileBatchSize),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reconcileJob.Start(gctx, cfg.ReconcileInterval)
		return nil
	})
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.SessionCleanupInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, server)
	})

	err = g.Wait()
	slog.Info("worker stopped gracefully")
	return err
}

// runReconcileOnce は整合性修復を1回だけ実行して終了する。
// 修復に失敗したエッジが残った場合はエラーを返す。
func runReconcileOnce(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	job := reconcile.NewJob(
		c.userRepo, c.invalidator, c.collector,
		cfg.RetryPolicy(), slog.Default(), cfg.ReconcileBatchSize,
	)
	result, err := job.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("reconcile left %d edges unrepaired", result.Failed)
	}
	return nil
}

// serveUntilDone はctxがキャンセルされるまでserverを実行し、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
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
