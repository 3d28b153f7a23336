package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/apperrors"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

func tagHit(name string, score float64) models.SearchResult {
	r := entityHit(name, score)
	r.Type = models.SearchResultTypeTag
	r.Kind = ""
	r.Category = models.TagCategoryTopic
	return r
}

func boolPtr(b bool) *bool {
	return &b
}

func newSearch(repo *mockSearchRepo, provider *mockProvider) SearchService {
	if provider == nil {
		return NewSearchService(repo, nil, DefaultSearchConfig(), zap.NewNop())
	}
	return NewSearchService(repo, provider, DefaultSearchConfig(), zap.NewNop())
}

func TestSearch_LexicalScalesScores(t *testing.T) {
	repo := newMockSearchRepo()
	repo.lexical[models.LexicalIndexCanonicalEntities] = []models.SearchResult{entityHit("PostgreSQL", 7.5)}
	repo.lexical[models.LexicalIndexTags] = []models.SearchResult{tagHit("databases", 2.5)}
	provider := &mockProvider{dimensions: 4}

	results, err := newSearch(repo, provider).Search(context.Background(), models.SearchOptions{
		Query: "Postgres DB",
		Limit: 10,
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "PostgreSQL", results[0].Name)
	assert.InDelta(t, 0.75, results[0].Score, 1e-9)
	assert.InDelta(t, 0.25, results[1].Score, 1e-9)
	assert.Equal(t, models.MatchSourceLexical, results[0].MatchedBy)
	assert.Equal(t, 0, provider.batchCalls, "lexical mode never embeds")

	require.Len(t, repo.lexicalArgs, 2)
	assert.Equal(t, "postgres db", repo.lexicalArgs[0].phrase)
	assert.Equal(t, "postgres-db", repo.lexicalArgs[1].phrase)
	assert.Len(t, repo.lexicalArgs[0].terms, 2)
}

func TestSearch_SemanticFiltersByScoreProjectAndKind(t *testing.T) {
	inProject := entityHit("PostgreSQL", 0.9)
	inProject.ProjectIDs = []string{"p1"}
	otherProject := entityHit("MySQL", 0.95)
	otherProject.ProjectIDs = []string{"p2"}
	wrongKind := entityHit("Postgres Inc", 0.9)
	wrongKind.Kind = models.EntityKindOrganization
	wrongKind.ProjectIDs = []string{"p1"}
	weak := entityHit("SQLite", 0.3)
	weak.ProjectIDs = []string{"p1"}
	tag := tagHit("databases", 0.8)
	tag.ProjectIDs = []string{"p1", "p3"}

	repo := newMockSearchRepo()
	repo.vector[models.VectorIndexCanonicalEntities] = []models.SearchResult{inProject, otherProject, wrongKind, weak}
	repo.vector[models.VectorIndexTags] = []models.SearchResult{tag}
	provider := &mockProvider{dimensions: 4}

	results, err := newSearch(repo, provider).Search(context.Background(), models.SearchOptions{
		Query:       "postgres",
		UseSemantic: true,
		UseHybrid:   boolPtr(false),
		Limit:       10,
		MinScore:    0.5,
		ProjectIDs:  []string{"p1"},
		EntityKinds: []models.EntityKind{models.EntityKindTechnology},
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "PostgreSQL", results[0].Name)
	assert.Equal(t, "databases", results[1].Name)
	assert.Equal(t, 1, provider.batchCalls, "query is embedded once")
	assert.Equal(t, 2, repo.vectorCalls)
	assert.Empty(t, repo.lexicalArgs)
}

func TestSearch_HybridIsDefaultForSemantic(t *testing.T) {
	x := entityHit("PostgreSQL", 0.6)
	y := entityHit("MySQL", 0.7)
	lexOnly := entityHit("Postgres Pro", 5)

	repo := newMockSearchRepo()
	repo.vector[models.VectorIndexCanonicalEntities] = []models.SearchResult{y, x}
	repo.lexical[models.LexicalIndexCanonicalEntities] = []models.SearchResult{withScore(x, 8), lexOnly}
	provider := &mockProvider{dimensions: 4}

	results, err := newSearch(repo, provider).Search(context.Background(), models.SearchOptions{
		Query:       "postgres",
		UseSemantic: true,
		Limit:       5,
	})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, x.ID, results[0].ID)
	assert.Equal(t, models.MatchSourceHybrid, results[0].MatchedBy)
	assert.Greater(t, results[0].Score, 0.6)
	assert.Equal(t, y.ID, results[1].ID)
	assert.Equal(t, lexOnly.ID, results[2].ID)
	assert.InDelta(t, 0.40, results[2].Score, 1e-9)

	for _, limit := range repo.limits {
		assert.Equal(t, 15, limit, "sub-queries use the widened limit")
	}
}

func TestSearch_HybridRelaxesSemanticFloor(t *testing.T) {
	repo := newMockSearchRepo()
	borderline := entityHit("Redis", 0.35)
	repo.vector[models.VectorIndexCanonicalEntities] = []models.SearchResult{borderline}
	repo.lexical[models.LexicalIndexCanonicalEntities] = []models.SearchResult{withScore(borderline, 6)}

	results, err := newSearch(repo, &mockProvider{dimensions: 4}).Search(context.Background(), models.SearchOptions{
		Query:       "redis",
		UseSemantic: true,
		Limit:       10,
		MinScore:    0.4,
	})
	require.NoError(t, err)

	// 0.35 passes the relaxed 0.2 floor, and the rank-1 boost lifts it to 0.455.
	require.Len(t, results, 1)
	assert.InDelta(t, 0.455, results[0].Score, 1e-9)
}

func TestSearch_WidenedLimitIsCapped(t *testing.T) {
	repo := newMockSearchRepo()
	_, err := newSearch(repo, &mockProvider{dimensions: 4}).Search(context.Background(), models.SearchOptions{
		Query:       "anything",
		UseSemantic: true,
		Limit:       80,
	})
	require.NoError(t, err)
	for _, limit := range repo.limits {
		assert.Equal(t, 100, limit)
	}
}

func TestSearch_DegradesToLexicalWhenEmbeddingFails(t *testing.T) {
	for name, hybrid := range map[string]bool{"hybrid": true, "semantic": false} {
		t.Run(name, func(t *testing.T) {
			repo := newMockSearchRepo()
			repo.lexical[models.LexicalIndexCanonicalEntities] = []models.SearchResult{entityHit("PostgreSQL", 8)}
			provider := &mockProvider{embedFn: func([]string) ([][]float32, error) {
				return nil, errors.New("connection refused")
			}}

			results, err := newSearch(repo, provider).Search(context.Background(), models.SearchOptions{
				Query:       "postgres",
				UseSemantic: true,
				UseHybrid:   boolPtr(hybrid),
				Limit:       10,
			})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, models.MatchSourceLexical, results[0].MatchedBy)
			assert.InDelta(t, 0.8, results[0].Score, 1e-9)
			assert.Equal(t, 0, repo.vectorCalls)
		})
	}
}

func TestSearch_StoreErrorIsReturned(t *testing.T) {
	repo := newMockSearchRepo()
	repo.vectorErr = errors.New("connection reset by peer")

	_, err := newSearch(repo, &mockProvider{dimensions: 4}).Search(context.Background(), models.SearchOptions{
		Query:       "postgres",
		UseSemantic: true,
		Limit:       10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestSearch_WithoutProviderIsLexical(t *testing.T) {
	repo := newMockSearchRepo()
	repo.lexical[models.LexicalIndexTags] = []models.SearchResult{tagHit("databases", 4)}

	results, err := newSearch(repo, nil).Search(context.Background(), models.SearchOptions{
		Query:       "database",
		UseSemantic: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, repo.vectorCalls)
}

func TestSearch_RejectsEmptyQuery(t *testing.T) {
	_, err := newSearch(newMockSearchRepo(), nil).Search(context.Background(), models.SearchOptions{Query: "  "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearch_DefaultLimit(t *testing.T) {
	repo := newMockSearchRepo()
	var hits []models.SearchResult
	for i := 0; i < 25; i++ {
		hits = append(hits, entityHit(string(rune('a'+i)), float64(25-i)))
	}
	repo.lexical[models.LexicalIndexCanonicalEntities] = hits

	results, err := newSearch(repo, nil).Search(context.Background(), models.SearchOptions{Query: "x"})
	require.NoError(t, err)
	assert.Len(t, results, DefaultSearchConfig().DefaultLimit)
}
