package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatflow-access-api/internal/access"
	"chatflow-access-api/internal/archive"
	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/database"
	"chatflow-access-api/internal/http/handler"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/provisioning"
	"chatflow-access-api/internal/ratelimit"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/service"
	"chatflow-access-api/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the chatflow access HTTP server with all middlewares and observability`,
	RunE:  runServe,
}

var serveSkipMigrations bool

func init() {
	serveCmd.Flags().BoolVar(&serveSkipMigrations, "skip-migrations", false, "do not run pending migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.OTELServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info(ctx, "starting chatflow access api",
		zap.String("version", version),
		zap.String("service", cfg.OTELServiceName),
		zap.String("fail_mode", cfg.PermissionFailMode),
		zap.String("commit_mode", cfg.BatchCommitMode),
	)

	if !serveSkipMigrations {
		log.Info(ctx, "running database migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info(ctx, "migrations completed successfully")
	}

	// Telemetry is opt-in; an unreachable collector degrades to no export.
	providers := &telemetry.Providers{}
	if cfg.TelemetryEnabled() {
		log.Info(ctx, "initializing telemetry", zap.String("endpoint", cfg.OTELExporterEndpoint))

		providers, err = telemetry.Start(ctx, telemetry.ExporterConfig{
			ServiceName:    cfg.OTELServiceName,
			ServiceVersion: version,
			Environment:    cfg.AppEnv,
			Endpoint:       cfg.OTELExporterEndpoint,
			SamplingRatio:  cfg.OTELSamplingRatio,
		})
		if err != nil {
			log.Warn(ctx, "telemetry partially unavailable", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				log.Error(shutdownCtx, "failed to flush telemetry", zap.Error(err))
			}
		}()

		log.Info(ctx, "telemetry initialized", zap.Bool("tracing", providers.Tracing()), zap.Bool("metrics", providers.HTTP != nil))
	} else {
		log.Info(ctx, "telemetry disabled (opt-in only or missing endpoint)")
	}

	accessMetrics := telemetry.NewAccessMetrics(prometheus.DefaultRegisterer)

	log.Info(ctx, "connecting to database")
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Info(ctx, "database connected")

	log.Info(ctx, "connecting to redis")
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Rate limiting fails open, so an unreachable Redis is not fatal.
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn(ctx, "redis unavailable, admin rate limiting will fail open", zap.Error(err))
	} else {
		log.Info(ctx, "redis connected")
	}

	secret, err := cfg.HS256Secret()
	if err != nil {
		return err
	}
	keyStore := auth.NewKeyStore()
	keyStore.LoadHS256Key(cfg.JWTKeyID, secret)

	identityRepo := repo.NewIdentityRepo(pool)
	adminRepo := repo.NewAdminPermissionRepo(pool)
	auditRepo := repo.NewAuditRepo(pool)

	authn := auth.NewAuthenticator(
		auth.NewHS256Validator(keyStore, cfg.ClockSkew()),
		auth.NewIdentityResolver(identityRepo, cfg.GetLegacyIssuers()),
		cfg.SessionCookieName,
		accessMetrics,
	)
	gate := auth.NewAdminGate(authn, adminRepo)
	log.Info(ctx, "session authentication initialized",
		zap.String("key_id", cfg.JWTKeyID),
		zap.Strings("legacy_issuers", cfg.GetLegacyIssuers()),
		zap.Int("clock_skew_seconds", cfg.JWTClockSkewSeconds),
	)

	resolver := access.NewResolver(
		repo.NewFinePermissionRepo(pool),
		repo.NewRolePermissionRepo(pool),
		identityRepo,
		cfg.AccessConfig(),
		log,
		accessMetrics,
	)

	uploads, err := newBatchUploadService(ctx, cfg, pool, auditRepo, log, accessMetrics)
	if err != nil {
		return err
	}

	permissionService := service.NewPermissionService(repo.NewCoarsePermissionRepo(pool), auditRepo, log, cfg.EnforceCourseRestriction)
	roleService := service.NewRolePermissionService(repo.NewRolePermissionRepo(pool), resolver, auditRepo, log, cfg.EnforceCourseRestriction)
	adminService := service.NewAdminPermissionService(adminRepo, identityRepo, auditRepo, log)

	var rateLimitCounter metric.Int64Counter
	if providers.HTTP != nil {
		rateLimitCounter = providers.HTTP.RateLimitRejections
	}

	r := buildRouter(RouterDeps{
		Cfg:         cfg,
		Log:         log,
		Gate:        gate,
		Authn:       authn,
		Members:     identityRepo,
		Idempotency: repo.NewIdempotencyRepo(pool, cfg.IdempotencyTTL),
		RateLimiter: ratelimit.NewRedisRateLimiter(redisClient, time.Minute, rateLimitCounter),
		Metrics:     providers.HTTP,
		Gatherer:    prometheus.DefaultGatherer,
		DB:          pool,
		Redis: PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		PermissionHandler:      handler.NewPermissionHandler(permissionService),
		BatchUploadHandler:     handler.NewBatchUploadHandler(uploads, cfg.BatchMaxUploadBytes),
		RolePermissionHandler:  handler.NewRolePermissionHandler(roleService),
		AdminPermissionHandler: handler.NewAdminPermissionHandler(adminService),
		RuntimeHandler:         handler.NewRuntimeHandler(resolver),
		DebugHandler:           handler.NewDebugHandler(cfg.AppEnv, pool),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
	}

	log.Info(ctx, "shutdown signal received, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown error", zap.Error(err))
	}

	log.Info(shutdownCtx, "shutdown complete")
	return nil
}

// newBatchUploadService wires the provisioning pipeline and the upload
// archive. Shared by the server and the import command.
func newBatchUploadService(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, auditRepo service.AuditLogger, log *logger.Logger, metrics *telemetry.AccessMetrics) (*service.BatchUploadService, error) {
	pipeline := provisioning.NewPipeline(provisioning.PipelineDeps{
		Catalogs: repo.NewCatalogRepo(pool),
		Store:    repo.NewCoarsePermissionRepo(pool),
		Tx:       repo.NewTxRunner(pool),
		StoreFor: func(tx repo.DBTX) provisioning.CoarseWriter {
			return repo.NewCoarsePermissionRepo(tx)
		},
		Mode:    provisioning.CommitMode(cfg.BatchCommitMode),
		Logger:  log,
		Metrics: metrics,
	})

	store, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload archive: %w", err)
	}
	log.Info(ctx, "bulk provisioning initialized",
		zap.String("commit_mode", string(pipeline.Mode())),
		zap.Bool("archive", cfg.Archive.Enabled()),
	)

	return service.NewBatchUploadService(pipeline, store, auditRepo, log, cfg.EnforceCourseRestriction), nil
}
