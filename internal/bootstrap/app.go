package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docresearch/internal/ai"
	"docresearch/internal/app"
	"docresearch/internal/cache"
	"docresearch/internal/chunker"
	"docresearch/internal/config"
	"docresearch/internal/extract"
	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/ocr"
	mysqlClient "docresearch/internal/platform/mysql"
	postgresClient "docresearch/internal/platform/postgres"
	rabbitmqClient "docresearch/internal/platform/rabbitmq"
	redisClient "docresearch/internal/platform/redis"
	"docresearch/internal/repository"
	"docresearch/internal/theme"
	"docresearch/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	MySQL    *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Postgres *pgxpool.Pool

	Index     *index.Index
	Documents *app.DocumentService
	Queries   *app.QueryService
	Themes    *app.ThemeService

	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.MySQL.MaxOpenConns)
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.Theme{}, &model.ThemeDocument{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}

	llm := ai.NewOpenAICompatibleClient(
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
		ai.WithRateLimit(cfg.LLM.RequestsPerSecond),
	)
	embedder := cache.NewCachedEmbedder(
		ai.NewEmbedder(llm, ai.EmbeddingConfig{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.EmbeddingModel}),
		cache.NewEmbeddingCache(a.Redis, time.Duration(cfg.Redis.EmbeddingTTLSeconds)*time.Second),
		a.Logger,
	)
	generator := ai.NewGenerator(llm,
		ai.ChatConfig{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model},
		ai.GenerateOptions{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature},
	)

	store, err := a.vectorStore(ctx)
	if err != nil {
		return err
	}
	a.Index = index.New(embedder, store,
		index.WithBatchSize(cfg.Ingest.EmbeddingBatchSize),
		index.WithConcurrency(cfg.Index.Concurrency),
		index.WithLogger(a.Logger),
	)

	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	themeRepo := repository.NewThemeRepository(mysqlDB)

	if cfg.Index.Backend == "memory" {
		if err := a.warmIndex(ctx, docRepo, chunkRepo); err != nil {
			return err
		}
	}

	extractor := extract.NewExtractor(a.ocrEngine(), cfg.Ingest.OCREnabled, a.Logger)
	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Ingest.ChunkSize),
		chunker.WithOverlap(cfg.Ingest.ChunkOverlap),
	)
	ingest := app.NewIngestService(docRepo, chunkRepo, extractor, splitter, a.Index, a.Logger)

	engine := theme.NewEngine(a.Index, embedder, generator, theme.Config{
		SimilarityThreshold:      cfg.Theme.SimilarityThreshold,
		MaxCandidatesPerDocument: cfg.Theme.MaxCandidatesPerDocument,
		CandidateChunks:          cfg.Theme.CandidateChunks,
		MaxKeywords:              cfg.Theme.MaxKeywords,
		MinConfidence:            cfg.Theme.MinConfidence,
		MaxThemes:                cfg.Theme.MaxThemes,
		Concurrency:              cfg.Theme.Concurrency,
		MaxTokens:                cfg.LLM.MaxTokens,
		Temperature:              cfg.LLM.Temperature,
	}, a.Logger)

	a.Documents = app.NewDocumentService(docRepo, chunkRepo, themeRepo, a.Index, ingest,
		rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue),
		cfg.Ingest.UploadDir, cfg.MaxUploadBytes(), a.Logger)
	a.Queries = app.NewQueryService(docRepo, a.Index, generator, engine, app.QueryConfig{
		SearchLimit:     cfg.Query.SearchLimit,
		DocumentTimeout: time.Duration(cfg.Query.DocumentTimeoutSeconds) * time.Second,
		QueryTimeout:    time.Duration(cfg.Query.QueryTimeoutSeconds) * time.Second,
		IncludeThemes:   cfg.Query.IncludeThemes,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
	}, a.Logger)
	a.Themes = app.NewThemeService(docRepo, themeRepo, engine, a.Logger)

	a.IngestWorker = worker.NewIngestWorker(a.MQConn, ingest, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.IngestConcurrency, a.Logger)
	if err := a.IngestWorker.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	return nil
}

func (a *App) vectorStore(ctx context.Context) (index.Store, error) {
	if a.Config.Index.Backend != "pgvector" {
		return index.NewMemoryStore(), nil
	}
	pool, err := postgresClient.New(ctx, a.Config.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.Postgres = pool
	store := index.NewPGVectorStore(pool)
	if err := store.EnsureSchema(ctx, a.Config.Index.Dimensions); err != nil {
		return nil, err
	}
	return store, nil
}

// warmIndex reloads persisted embeddings of processed documents into the in-memory store.
func (a *App) warmIndex(ctx context.Context, docs *repository.DocumentRepository, chunks *repository.ChunkRepository) error {
	ids, err := docs.ListIDsByStatus(ctx, model.StatusProcessed)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	stored, err := chunks.ListByDocumentIDs(ctx, ids)
	if err != nil {
		return err
	}
	n, err := a.Index.Load(ctx, stored)
	if err != nil {
		return err
	}
	a.Logger.Info("index warmed", slog.Int("documents", len(ids)), slog.Int("chunks", n))
	return nil
}

func (a *App) ocrEngine() ocr.Engine {
	if !a.Config.Ingest.OCREnabled {
		return ocr.Disabled{}
	}
	engine, err := ocr.NewTesseract(a.Config.Ingest.OCRLanguage)
	if err != nil {
		a.Logger.Warn("ocr engine unavailable", slog.String("error", err.Error()))
		return ocr.Disabled{}
	}
	return engine
}

// HealthChecks lists the dependency checks reported by /healthz.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"mysql":    func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx, a.Redis) },
		"rabbitmq": func(ctx context.Context) error { return rabbitmqClient.Ping(ctx, a.MQConn) },
	}
	if a.Postgres != nil {
		checks["postgres"] = func(ctx context.Context) error { return a.Postgres.Ping(ctx) }
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MQConn != nil {
		errs = append(errs, a.MQConn.Close())
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
