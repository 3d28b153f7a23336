package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/embedding"
	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// Embedding targets, used as metric labels.
const (
	embeddingTargetEntity = "canonical_entity"
	embeddingTargetTag    = "tag"
)

// EmbeddingConfig tunes embedding maintenance.
type EmbeddingConfig struct {
	BatchSize int
	// Dimensions is the vector size the store's indexes expect. Zero skips
	// the check.
	Dimensions int
}

// DefaultEmbeddingConfig returns the default embedding settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{BatchSize: 100}
}

// EmbeddingService keeps registry embeddings in sync with their content.
type EmbeddingService interface {
	// GenerateEmbeddings embeds canonical entities and tags whose descriptive
	// text changed since they were last embedded. A second run with no
	// content changes embeds nothing.
	GenerateEmbeddings(ctx context.Context) (*models.EmbeddingResult, error)
}

type embeddingService struct {
	canonicalRepo repositories.CanonicalEntityRepository
	tagRepo       repositories.TagRepository
	provider      embedding.Provider
	pool          *llm.WorkerPool
	cfg           EmbeddingConfig
	logger        *zap.Logger
}

// NewEmbeddingService creates a new EmbeddingService.
func NewEmbeddingService(
	canonicalRepo repositories.CanonicalEntityRepository,
	tagRepo repositories.TagRepository,
	provider embedding.Provider,
	pool *llm.WorkerPool,
	cfg EmbeddingConfig,
	logger *zap.Logger,
) EmbeddingService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbeddingConfig().BatchSize
	}
	return &embeddingService{
		canonicalRepo: canonicalRepo,
		tagRepo:       tagRepo,
		provider:      provider,
		pool:          pool,
		cfg:           cfg,
		logger:        logger.Named("embedding"),
	}
}

var _ EmbeddingService = (*embeddingService)(nil)

// embeddingStore is the write half shared by both registries.
type embeddingStore interface {
	UpdateEmbeddings(ctx context.Context, updates []repositories.EmbeddingUpdate) error
}

type targetStats struct {
	embedded      int
	skipped       int
	failedBatches int
}

func (s *embeddingService) GenerateEmbeddings(ctx context.Context) (*models.EmbeddingResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "services.Embedding.GenerateEmbeddings")
	defer span.End()

	start := time.Now()
	result := &models.EmbeddingResult{}

	entities, err := s.canonicalRepo.ListAll(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to load canonical entities: %w", err))
	}
	st, err := s.embedTarget(ctx, embeddingTargetEntity, embedding.EntityItems(entities), s.canonicalRepo)
	result.EntitiesEmbedded, result.EntitiesSkipped = st.embedded, st.skipped
	result.FailedBatches += st.failedBatches
	if err != nil {
		result.Duration = time.Since(start)
		return result, recordSpanError(span, err)
	}

	tags, err := s.tagRepo.ListAll(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		return result, recordSpanError(span, fmt.Errorf("failed to load tags: %w", err))
	}
	st, err = s.embedTarget(ctx, embeddingTargetTag, embedding.TagItems(tags), s.tagRepo)
	result.TagsEmbedded, result.TagsSkipped = st.embedded, st.skipped
	result.FailedBatches += st.failedBatches
	result.Duration = time.Since(start)
	if err != nil {
		return result, recordSpanError(span, err)
	}

	span.SetAttributes(
		attribute.Int("embedded", result.Embedded()),
		attribute.Int("failed_batches", result.FailedBatches),
	)
	s.logger.Info("Embedding maintenance complete",
		zap.Int("entities_embedded", result.EntitiesEmbedded),
		zap.Int("entities_skipped", result.EntitiesSkipped),
		zap.Int("tags_embedded", result.TagsEmbedded),
		zap.Int("tags_skipped", result.TagsSkipped),
		zap.Int("failed_batches", result.FailedBatches),
		zap.Duration("elapsed", result.Duration))

	return result, nil
}

// embedTarget embeds the changed items of one registry. Provider calls run on
// the worker pool; store writes happen here, one batch at a time, and a
// store error ends the run.
func (s *embeddingService) embedTarget(ctx context.Context, target string, items []embedding.Item, store embeddingStore) (targetStats, error) {
	var st targetStats

	changed, unchanged := embedding.Partition(items)
	st.skipped = len(unchanged)
	metrics.RecordEmbeddings(target, metrics.EmbeddingSkipped, st.skipped)
	if len(changed) == 0 {
		return st, nil
	}

	batches := embedding.Batches(changed, s.cfg.BatchSize)
	work := make([]llm.WorkItem[[][]float32], len(batches))
	for i, batch := range batches {
		texts := make([]string, len(batch))
		for j, item := range batch {
			texts[j] = item.Text
		}
		work[i] = llm.WorkItem[[][]float32]{
			ID: fmt.Sprintf("%s-%d", target, i),
			Execute: func(ctx context.Context) ([][]float32, error) {
				return s.provider.EmbedBatch(ctx, texts)
			},
		}
	}

	s.logger.Debug("Embedding changed records",
		zap.String("target", target),
		zap.Int("changed", len(changed)),
		zap.Int("batches", len(batches)))

	results := llm.Process(ctx, s.pool, work, nil)
	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		batch := batches[i]
		err := res.Err
		if err == nil {
			err = s.checkVectors(res.Result, len(batch))
		}
		if err != nil {
			st.failedBatches++
			metrics.RecordEmbeddings(target, metrics.EmbeddingFailed, len(batch))
			s.logger.Warn("Embedding batch failed",
				zap.String("batch", res.ID),
				zap.Int("size", len(batch)),
				zap.Error(err))
			continue
		}

		updates := make([]repositories.EmbeddingUpdate, len(batch))
		for j, item := range batch {
			updates[j] = repositories.EmbeddingUpdate{ID: item.ID, Vector: res.Result[j], Hash: item.Hash}
		}
		if err := store.UpdateEmbeddings(ctx, updates); err != nil {
			return st, fmt.Errorf("failed to store %s embeddings: %w", target, err)
		}
		st.embedded += len(batch)
		metrics.RecordEmbeddings(target, metrics.EmbeddingEmbedded, len(batch))
	}

	return st, nil
}

func (s *embeddingService) checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), want)
	}
	for _, v := range vectors {
		if s.cfg.Dimensions > 0 && len(v) != s.cfg.Dimensions {
			return fmt.Errorf("provider returned %d-dimensional vector, store expects %d", len(v), s.cfg.Dimensions)
		}
	}
	return nil
}
