package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/embedding"
	"github.com/Zeeeepa/ragforge-sub003/pkg/metrics"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// Search modes, used as metric labels.
const (
	searchModeLexical  = "lexical"
	searchModeSemantic = "semantic"
	searchModeHybrid   = "hybrid"
)

const (
	// lexicalScoreScale brings raw lexical relevance into a 0-1-ish range.
	lexicalScoreScale = 10.0
	// minSemanticFloor is the lowest relaxed floor used in hybrid mode.
	minSemanticFloor = 0.1
)

var errEmbeddingUnavailable = errors.New("embedding provider unavailable")

// SearchConfig tunes registry search.
type SearchConfig struct {
	DefaultLimit int
	// MaxCandidates caps the widened per-index limit of hybrid sub-queries.
	MaxCandidates int
}

// DefaultSearchConfig returns the default search settings.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		DefaultLimit:  10,
		MaxCandidates: 100,
	}
}

// SearchService ranks canonical entities and tags against a free-text query.
type SearchService interface {
	// Search runs a lexical, semantic or hybrid search. When the embedding
	// provider fails, semantic and hybrid searches degrade to lexical.
	Search(ctx context.Context, opts models.SearchOptions) ([]models.SearchResult, error)
}

type searchService struct {
	searchRepo repositories.SearchRepository
	provider   embedding.Provider
	cfg        SearchConfig
	logger     *zap.Logger
}

// NewSearchService creates a new SearchService. provider may be nil, in which
// case every search is lexical.
func NewSearchService(
	searchRepo repositories.SearchRepository,
	provider embedding.Provider,
	cfg SearchConfig,
	logger *zap.Logger,
) SearchService {
	defaults := DefaultSearchConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaults.DefaultLimit
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaults.MaxCandidates
	}
	return &searchService{
		searchRepo: searchRepo,
		provider:   provider,
		cfg:        cfg,
		logger:     logger.Named("search"),
	}
}

var _ SearchService = (*searchService)(nil)

// searchFilter is the post-hoc filter applied to every sub-query.
type searchFilter struct {
	floor    float64
	projects []string
	kinds    map[models.EntityKind]bool
}

// keep reports whether r passes the filter. Kinds restrict entity hits only.
func (f searchFilter) keep(r models.SearchResult) bool {
	if r.Score < f.floor {
		return false
	}
	if !models.ContainsAny(r.ProjectIDs, f.projects) {
		return false
	}
	if len(f.kinds) > 0 && r.Type == models.SearchResultTypeEntity && !f.kinds[r.Kind] {
		return false
	}
	return true
}

func (s *searchService) Search(ctx context.Context, opts models.SearchOptions) ([]models.SearchResult, error) {
	opts.Query = strings.TrimSpace(opts.Query)
	if opts.Query == "" {
		return nil, fmt.Errorf("empty search query: %w", apperrors.ErrInvalidInput)
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.DefaultLimit
	}

	mode := searchModeLexical
	switch {
	case opts.HybridEnabled():
		mode = searchModeHybrid
	case opts.UseSemantic:
		mode = searchModeSemantic
	}
	if s.provider == nil && mode != searchModeLexical {
		s.logger.Debug("No embedding provider configured; searching lexically")
		mode = searchModeLexical
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "services.Search.Search",
		trace.WithAttributes(
			attribute.String("mode", mode),
			attribute.Int("limit", opts.Limit),
		))
	defer span.End()

	start := time.Now()
	filter := searchFilter{floor: opts.MinScore, projects: opts.ProjectIDs}
	if len(opts.EntityKinds) > 0 {
		filter.kinds = make(map[models.EntityKind]bool, len(opts.EntityKinds))
		for _, k := range opts.EntityKinds {
			filter.kinds[k] = true
		}
	}

	var (
		results []models.SearchResult
		err     error
	)
	switch mode {
	case searchModeHybrid:
		results, err = s.hybrid(ctx, opts, filter)
	case searchModeSemantic:
		results, err = s.semanticOrDegrade(ctx, opts, filter)
	default:
		results, err = s.lexical(ctx, opts.Query, opts.Limit, filter)
		if err == nil {
			results = rankResults(results, opts.MinScore, opts.Limit)
		}
	}
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	metrics.ObserveSearch(mode, time.Since(start))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (s *searchService) semanticOrDegrade(ctx context.Context, opts models.SearchOptions, filter searchFilter) ([]models.SearchResult, error) {
	results, err := s.semantic(ctx, opts.Query, opts.Limit, filter)
	if errors.Is(err, errEmbeddingUnavailable) {
		s.degraded(err)
		results, err = s.lexical(ctx, opts.Query, opts.Limit, filter)
	}
	if err != nil {
		return nil, err
	}
	return rankResults(results, opts.MinScore, opts.Limit), nil
}

// hybrid runs both sub-queries concurrently with a widened candidate limit
// and a relaxed semantic floor, then fuses them.
func (s *searchService) hybrid(ctx context.Context, opts models.SearchOptions, filter searchFilter) ([]models.SearchResult, error) {
	widened := min(3*opts.Limit, s.cfg.MaxCandidates)
	semanticFilter := filter
	semanticFilter.floor = max(opts.MinScore/2, minSemanticFloor)
	lexicalFilter := filter
	lexicalFilter.floor = 0

	var semantic, lexical []models.SearchResult
	var embedErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = s.semantic(gctx, opts.Query, widened, semanticFilter)
		if errors.Is(err, errEmbeddingUnavailable) {
			embedErr = err
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		lexical, err = s.lexical(gctx, opts.Query, widened, lexicalFilter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if embedErr != nil {
		s.degraded(embedErr)
		filtered := lexical[:0]
		for _, r := range lexical {
			if r.Score >= opts.MinScore {
				filtered = append(filtered, r)
			}
		}
		return rankResults(filtered, opts.MinScore, opts.Limit), nil
	}

	return FuseResults(semantic, lexical, opts.MinScore, opts.Limit), nil
}

func (s *searchService) degraded(err error) {
	metrics.RecordSearchDegraded()
	s.logger.Warn("Embedding provider failed; falling back to lexical search", zap.Error(err))
}

// semantic embeds the query once and searches both vector indexes
// concurrently. Embedding failures are wrapped in errEmbeddingUnavailable.
func (s *searchService) semantic(ctx context.Context, query string, limit int, filter searchFilter) ([]models.SearchResult, error) {
	vector, err := s.provider.EmbedOne(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", errEmbeddingUnavailable, err)
	}

	indexes := []models.VectorIndex{models.VectorIndexCanonicalEntities, models.VectorIndexTags}
	perIndex := make([][]models.SearchResult, len(indexes))

	g, gctx := errgroup.WithContext(ctx)
	for i, index := range indexes {
		g.Go(func() error {
			hits, err := s.searchRepo.VectorSearch(gctx, index, vector, limit)
			if err != nil {
				return fmt.Errorf("vector search on %s: %w", index, err)
			}
			perIndex[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.SearchResult
	for _, hits := range perIndex {
		for _, r := range hits {
			if filter.keep(r) {
				r.MatchedBy = models.MatchSourceSemantic
				out = append(out, r)
			}
		}
	}
	return rankResults(out, filter.floor, 0), nil
}

// lexical runs the fuzzy term query against both lexical indexes and scales
// the raw relevance.
func (s *searchService) lexical(ctx context.Context, query string, limit int, filter searchFilter) ([]models.SearchResult, error) {
	terms := BuildLexicalTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	s.logger.Debug("Lexical query", zap.String("expression", BuildLexicalQuery(query)))

	// An exact hit on the normalized name earns a bonus, so the phrase is
	// normalized the way each registry normalizes names.
	phrases := map[models.LexicalIndex]string{
		models.LexicalIndexCanonicalEntities: models.NormalizeEntityName(query),
		models.LexicalIndexTags:              models.NormalizeTagName(query),
	}

	var out []models.SearchResult
	for _, index := range []models.LexicalIndex{models.LexicalIndexCanonicalEntities, models.LexicalIndexTags} {
		hits, err := s.searchRepo.LexicalSearch(ctx, index, terms, phrases[index], limit)
		if err != nil {
			return nil, fmt.Errorf("lexical search on %s: %w", index, err)
		}
		for _, r := range hits {
			r.Score /= lexicalScoreScale
			r.MatchedBy = models.MatchSourceLexical
			if filter.keep(r) {
				out = append(out, r)
			}
		}
	}
	return rankResults(out, filter.floor, limit), nil
}
