// Package engine assembles the registry services from configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/config"
	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/embedding"
	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
	"github.com/Zeeeepa/ragforge-sub003/pkg/logging"
	"github.com/Zeeeepa/ragforge-sub003/pkg/oracle"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
	"github.com/Zeeeepa/ragforge-sub003/pkg/services"
)

// Engine owns the database pool, the model clients and every service built
// on them. Close releases them.
type Engine struct {
	Resolution services.EntityResolutionService
	Tags       services.TagResolutionService
	Embeddings services.EmbeddingService
	Search     services.SearchService
	Lifecycle  services.LifecycleService

	Mentions   repositories.EntityMentionRepository
	Canonicals repositories.CanonicalEntityRepository
	TagStore   repositories.TagRepository

	db      *database.DB
	closers []func() error
	logger  *zap.Logger
}

// New connects to the database and wires the services. The chat model is
// only contacted when an oracle-backed operation runs.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	logger = logger.Named("engine")

	db, err := connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{db: db, logger: logger}
	e.closers = append(e.closers, func() error {
		db.Close()
		return nil
	})

	chat, err := llm.NewClientForProvider(chatProviderSettings(cfg), logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	provider, closeProvider, err := newEmbeddingProvider(cfg, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	if closeProvider != nil {
		e.closers = append(e.closers, closeProvider)
	}

	e.Mentions = repositories.NewEntityMentionRepository(db)
	e.Canonicals = repositories.NewCanonicalEntityRepository(db)
	e.TagStore = repositories.NewTagRepository(db)
	lifecycleRepo := repositories.NewLifecycleRepository(db)
	searchRepo := repositories.NewSearchRepository(db, cfg.Embedding.Dimensions)

	matcher := oracle.NewLLMOracle(chat, oracleSettings(cfg), logger)
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Embedding.MaxConcurrent}, logger)

	e.Resolution = services.NewEntityResolutionService(e.Mentions, e.Canonicals, matcher, db, resolutionSettings(cfg), logger)
	e.Tags = services.NewTagResolutionService(e.TagStore, matcher, db, tagSettings(cfg), logger)
	e.Embeddings = services.NewEmbeddingService(e.Canonicals, e.TagStore, provider, pool, embeddingSettings(cfg), logger)
	e.Search = services.NewSearchService(searchRepo, provider, searchSettings(cfg), logger)
	e.Lifecycle = services.NewLifecycleService(lifecycleRepo, lifecycleSettings(cfg), logger)

	logger.Info("Engine ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("embedding_dimensions", cfg.Embedding.Dimensions))

	return e, nil
}

// Close releases resources in reverse acquisition order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Migrate applies the embedded schema migrations and creates the vector
// indexes for the configured embedding dimension.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger = logger.Named("migrate")

	db, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return err
	}

	if err := repositories.NewSearchRepository(db, cfg.Embedding.Dimensions).EnsureVectorIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector indexes: %w", err)
	}
	logger.Info("Vector indexes ready", zap.Int("dimensions", cfg.Embedding.Dimensions))
	return nil
}

func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	dbCfg := databaseSettings(cfg)

	db, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		logger.Error("Failed to connect to database",
			zap.String("url", logging.SanitizeConnectionString(dbCfg.URL)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Debug("Connected to database",
		zap.String("url", logging.SanitizeConnectionString(dbCfg.URL)))
	return db, nil
}

// newEmbeddingProvider returns the configured provider and, for providers
// holding native resources, a function releasing them.
func newEmbeddingProvider(cfg *config.Config, logger *zap.Logger) (embedding.Provider, func() error, error) {
	switch cfg.Embedding.Provider {
	case "local":
		p, err := embedding.NewLocalProvider(embedding.LocalConfig{
			ModelName: cfg.Embedding.LocalModel,
			ModelDir:  cfg.Embedding.LocalModelDir,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start local embedding model: %w", err)
		}
		return p, p.Close, nil
	default:
		client, err := llm.NewClient(&llm.Config{
			Endpoint:       config.ResolveURLForDocker(cfg.Embedding.Endpoint),
			APIKey:         cfg.Embedding.APIKey,
			EmbeddingModel: cfg.Embedding.Model,
			Dimensions:     requestedDimensions(cfg.Embedding.Model, cfg.Embedding.Dimensions),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
		return embedding.NewLLMProvider(client, cfg.Embedding.Model), nil, nil
	}
}

// requestedDimensions returns the dimension to request from the embeddings
// API. Only the text-embedding-3 family accepts a shortened size.
func requestedDimensions(model string, dimensions int) int {
	if strings.HasPrefix(model, "text-embedding-3") {
		return dimensions
	}
	return 0
}
