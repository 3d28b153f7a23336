package services

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

func entityHit(name string, score float64) models.SearchResult {
	return models.SearchResult{
		Type:  models.SearchResultTypeEntity,
		ID:    uuid.New(),
		Name:  name,
		Kind:  models.EntityKindTechnology,
		Score: score,
	}
}

func withScore(r models.SearchResult, score float64) models.SearchResult {
	r.Score = score
	return r
}

func TestFuseResults_LexicalRankOneBoostsSemanticScore(t *testing.T) {
	x := entityHit("PostgreSQL", 0.6)
	y := entityHit("MySQL", 0.7)

	fused := FuseResults(
		[]models.SearchResult{y, x},
		[]models.SearchResult{withScore(x, 0.9)},
		0, 10)

	require.Len(t, fused, 2)
	assert.Equal(t, x.ID, fused[0].ID)
	assert.Greater(t, fused[0].Score, x.Score)
	assert.InDelta(t, 0.6*1.3, fused[0].Score, 1e-9)
	assert.Equal(t, models.MatchSourceHybrid, fused[0].MatchedBy)
	assert.Equal(t, models.MatchSourceSemantic, fused[1].MatchedBy)
}

func TestFuseResults_BoostDiminishesWithRank(t *testing.T) {
	a := entityHit("a", 0.5)
	b := entityHit("b", 0.5)
	filler := entityHit("filler", 0.1)
	filler2 := entityHit("filler2", 0.1)

	fused := FuseResults(
		[]models.SearchResult{a, b},
		[]models.SearchResult{a, filler, filler2, b},
		0.45, 10)

	require.Len(t, fused, 2)
	assert.Equal(t, a.ID, fused[0].ID)
	assert.InDelta(t, 0.5*(1+0.3/math.Sqrt(4)), fused[1].Score, 1e-9)
}

func TestFuseResults_AppendsAtMostThreeLexicalOnlyHits(t *testing.T) {
	sem := entityHit("sem", 0.9)
	lexical := []models.SearchResult{
		entityHit("l1", 5), entityHit("l2", 4), entityHit("l3", 3), entityHit("l4", 2),
	}

	fused := FuseResults([]models.SearchResult{sem}, lexical, 0, 10)

	require.Len(t, fused, 4)
	assert.Equal(t, "sem", fused[0].Name)
	wantScores := []float64{0.40, 0.35, 0.30}
	for i, want := range wantScores {
		assert.Equal(t, lexical[i].Name, fused[i+1].Name)
		assert.InDelta(t, want, fused[i+1].Score, 1e-9)
		assert.Equal(t, models.MatchSourceLexical, fused[i+1].MatchedBy)
	}
}

func TestFuseResults_FiltersAndTruncates(t *testing.T) {
	semantic := []models.SearchResult{
		entityHit("a", 0.9), entityHit("b", 0.8), entityHit("c", 0.7), entityHit("d", 0.2),
	}
	lexical := []models.SearchResult{entityHit("lex", 1)}

	fused := FuseResults(semantic, lexical, 0.5, 2)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].Name)
	assert.Equal(t, "b", fused[1].Name)

	fused = FuseResults(semantic, lexical, 0.5, 10)
	names := make([]string, len(fused))
	for i, r := range fused {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names, "synthetic 0.40 lexical score falls below the floor")
}

func TestFuseResults_DoesNotModifyInputs(t *testing.T) {
	x := entityHit("x", 0.5)
	semantic := []models.SearchResult{x}
	lexical := []models.SearchResult{x}

	_ = FuseResults(semantic, lexical, 0, 10)
	assert.Equal(t, 0.5, semantic[0].Score)
	assert.Empty(t, semantic[0].MatchedBy)
}

func TestFuseResults_EntityAndTagWithSameIDAreDistinct(t *testing.T) {
	id := uuid.New()
	entity := models.SearchResult{Type: models.SearchResultTypeEntity, ID: id, Name: "go", Score: 0.8}
	tag := models.SearchResult{Type: models.SearchResultTypeTag, ID: id, Name: "go", Score: 3}

	fused := FuseResults([]models.SearchResult{entity}, []models.SearchResult{tag}, 0, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, models.MatchSourceSemantic, fused[0].MatchedBy)
	assert.Equal(t, models.MatchSourceLexical, fused[1].MatchedBy)
}
