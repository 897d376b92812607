package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"insights-backend/internal/archive"
	"insights-backend/internal/cascade"
	"insights-backend/internal/enrichment"
	"insights-backend/internal/insights"
	"insights-backend/internal/llm"
	openai "insights-backend/internal/llm/openai"
	"insights-backend/internal/processes"
	"insights-backend/internal/queue"
	"insights-backend/internal/services/health"
	"insights-backend/internal/shared/config"
	"insights-backend/internal/shared/server"
	"insights-backend/internal/shared/server/middleware"
	"insights-backend/internal/shared/storage/db"
	"insights-backend/internal/shared/storage/object"
	localstore "insights-backend/internal/shared/storage/object/local"
	s3store "insights-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies for every entrypoint.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Redis     *goredis.Client
	Queue     queue.Client
	Archive   *archive.Archive
	Processes *processes.Service
	Insights  insights.Store
	Source    enrichment.Source
	Health    *health.Service
}

// Build prepares shared dependencies and wires routes. role sizes the
// database pool for the calling entrypoint.
func Build(cfg config.Config, role db.Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, role)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil && cfg.AutoMigrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := buildRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildArchiveStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}
	controller, err := cascade.New(gateway, cascade.Config{
		Models:     cfg.LLMModels,
		Retries:    cfg.LLMRetries,
		RetryDelay: cfg.LLMRetryDelay,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Redis:  redisClient,
		Queue:  queueClient,
	}
	if store != nil {
		app.Archive = archive.New(store)
	}

	var repo processes.Repo
	if sqlDB != nil {
		repo = &processes.PGRepo{DB: sqlDB}
		app.Insights = &insights.PGStore{DB: sqlDB}
		app.Source = &enrichment.PGSource{DB: sqlDB}
	} else {
		repo = processes.NewMemoryRepo()
		app.Insights = insights.NewMemoryStore()
		app.Source = enrichment.NewMemorySource()
	}

	var locker insights.Locker
	if redisClient != nil {
		locker = insights.NewRedisLocker(redisClient)
	}

	var dispatcher processes.Dispatcher
	if queueClient != nil {
		dispatcher = processes.QueueDispatcher{Queue: queueClient}
	}

	app.Processes = &processes.Service{
		Repo:        repo,
		Collector:   enrichment.NewCollector(app.Source),
		Cascade:     controller,
		Merger:      insights.NewMergeEngine(app.Insights, locker),
		Dispatcher:  dispatcher,
		Archive:     app.Archive,
		StaleAfter:  cfg.DefaultStaleAfter(),
		MaxRequeues: cfg.MaxRequeues,
	}

	app.Health = health.NewService(buildChecks(sqlDB, redisClient))
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Health:          app.Health,
		AnalysisHandler: processes.NewHandler(app.Processes),
		InsightHandler:  insights.NewHandler(app.Insights),
		RateLimiter:     middleware.NewRateLimiter(nil),
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config, role db.Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory stores")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultOptions(db.RoleLambda)))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultOptions(role)))
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory stores: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildRedis(ctx context.Context, cfg config.Config) (*goredis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client, err := insights.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: redis unavailable; merges use in-process locks: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildArchiveStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ArchiveStoreType {
	case "s3":
		if cfg.ArchiveBucket == "" {
			return nil, fmt.Errorf("ARCHIVE_STORE=s3 requires ARCHIVE_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.ArchiveBucket, cfg.ArchivePrefix, cfg.ArchiveKMSKeyID)
	case "local":
		return localstore.New(cfg.ArchiveDir), nil
	default:
		return nil, nil
	}
}

func buildGateway(cfg config.Config) (llm.Gateway, error) {
	switch cfg.LLMProvider {
	case "openai":
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMTimeout)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: %v; model calls will fail", err)
				return llm.PlaceholderGateway{}, nil
			}
			return nil, err
		}
		return client, nil
	case "", "none":
		if !isDevLike(cfg.Env) {
			return nil, fmt.Errorf("LLM_PROVIDER is required")
		}
		return llm.PlaceholderGateway{}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func buildChecks(sqlDB *sql.DB, redisClient *goredis.Client) map[string]health.Check {
	checks := map[string]health.Check{}
	if sqlDB != nil {
		checks["database"] = sqlDB.PingContext
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
