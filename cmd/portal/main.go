package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/config"
	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/handler"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/cache"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/postgres"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/preference"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
	"github.com/boddenberg/client-portal-bfa-go/internal/repository"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Bool("realtime_enabled", cfg.RealtimeEnabled),
		zap.Duration("live_debounce", cfg.LiveDebounce),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("single_fetch_limit", cfg.SingleFetchLimit),
		zap.Int("aggregate_fetch_limit", cfg.AggregateFetchLimit),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "client-portal-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	ctx := context.Background()
	healthChecks := map[string]handler.Pinger{}

	// --- Supabase (auth, storage, and the default data backend) ---
	var supabaseClient *supabase.Client
	if cfg.SupabaseURL != "" {
		supabaseClient = supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			logger,
		)
	}

	// --- Data backend & change feed ---
	var ds port.DataSource
	var feed port.ChangeFeed
	switch cfg.DataBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		ds = postgres.NewDataSource(pool, logger)
		feed = postgres.NewListener(postgres.PoolDialer(pool), postgres.DefaultChannel, logger)
		healthChecks["postgres"] = ds
	default:
		ds = supabaseClient
		feed = supabase.NewRealtime(cfg.SupabaseURL, cfg.SupabaseAnonKey, 0, logger)
		healthChecks["supabase"] = ds
	}

	// --- Preferences ---
	var prefs port.PreferenceStore = preference.NewMemoryStore()
	if cfg.RedisURL != "" {
		store, err := preference.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer store.Close()
		prefs = store
		healthChecks["redis"] = store
		logger.Info("view-mode preferences stored in redis")
	} else {
		logger.Warn("REDIS_URL not set, view-mode preferences are kept in memory")
	}

	// --- Repositories ---
	profiles := repository.NewProfiles(ds)
	projects := repository.NewProjects(ds, cache.New[*domain.Project](cfg.CacheSize, cfg.CacheTTL), metrics, logger)
	tenants := repository.NewTenants(ds)

	// --- Services ---
	roles := service.NewRoleResolver(profiles, projects, prefs, metrics, logger)
	executions := service.NewExecutionAggregator(ds, projects, bulkhead, service.Limits{
		Single:    cfg.SingleFetchLimit,
		Aggregate: cfg.AggregateFetchLimit,
	}, metrics, logger)
	conversations := service.NewConversationAggregator(ds, metrics, logger)
	documents := service.NewDocumentFeed(ds, metrics, logger)

	var live *service.LiveRefresh
	if cfg.RealtimeEnabled {
		live = service.NewLiveRefresh(feed, cfg.LiveDebounce, metrics, logger)
	}

	deps := handler.Deps{
		Verifier:      service.NewTokenVerifier(cfg.SupabaseJWTSecret, cfg.JWTAudience),
		Roles:         roles,
		Executions:    executions,
		Conversations: conversations,
		Documents:     documents,
		Dashboard: service.DashboardDeps{
			Roles:         roles,
			Executions:    executions,
			Conversations: conversations,
			Documents:     documents,
			Live:          live,
			Metrics:       metrics,
			Logger:        logger,
		},
		HealthChecks:     healthChecks,
		CORSOrigins:      cfg.CORSOrigins,
		WSOriginPatterns: cfg.WSOriginPatterns,
		Metrics:          metrics,
		Logger:           logger,
	}

	if supabaseClient != nil {
		deps.Sessions = service.NewSessionService(supabaseClient, logger)
		deps.Admin = service.NewAdminService(profiles, projects, tenants, ds, supabaseClient, metrics, logger)
	} else {
		logger.Warn("SUPABASE_URL not set: login and document uploads unavailable")
		deps.Admin = service.NewAdminService(profiles, projects, tenants, ds, nil, metrics, logger)
	}
	if cfg.SupabaseJWTSecret == "" {
		logger.Warn("SUPABASE_JWT_SECRET not set: every authenticated request will be rejected")
	}

	// --- Router ---
	router := handler.NewRouter(deps)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
