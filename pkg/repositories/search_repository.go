package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/Zeeeepa/ragforge-sub003/pkg/database"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// LexicalTerm is one token of a fuzzy lexical query. Fuzziness is the
// maximum edit distance a stored term may have from Text.
type LexicalTerm struct {
	Text      string
	Fuzziness int
}

// Relevance weights of the lexical scorer. Raw scores are summed per
// matching query term, so a two-term exact match scores 10.
const (
	lexicalExactWeight  = 5.0
	lexicalFuzzyWeight  = 2.5
	lexicalPhraseWeight = 5.0
)

// SearchRepository runs nearest-neighbour and fuzzy lexical queries against
// the named indexes of the canonical entity and tag registries.
type SearchRepository interface {
	// VectorSearch returns the limit nearest records by cosine similarity.
	VectorSearch(ctx context.Context, index models.VectorIndex, embedding []float32, limit int) ([]models.SearchResult, error)
	// LexicalSearch returns records scored by raw lexical relevance.
	// phrase is the query in the registry's normalized-name form; an exact match
	// with it earns a bonus.
	LexicalSearch(ctx context.Context, index models.LexicalIndex, terms []LexicalTerm, phrase string, limit int) ([]models.SearchResult, error)
	// EnsureVectorIndexes creates the HNSW indexes for the configured dimension.
	EnsureVectorIndexes(ctx context.Context) error
	Dimensions() int
}

type indexSpec struct {
	table      string
	nameColumn string
	typeColumn string
	resultType models.SearchResultType
}

var vectorIndexes = map[models.VectorIndex]indexSpec{
	models.VectorIndexCanonicalEntities: {"canonical_entities", "canonical_name", "kind", models.SearchResultTypeEntity},
	models.VectorIndexTags:              {"tags", "name", "category", models.SearchResultTypeTag},
}

var lexicalIndexes = map[models.LexicalIndex]indexSpec{
	models.LexicalIndexCanonicalEntities: {"canonical_entities", "canonical_name", "kind", models.SearchResultTypeEntity},
	models.LexicalIndexTags:              {"tags", "name", "category", models.SearchResultTypeTag},
}

type searchRepository struct {
	db         *database.DB
	dimensions int
}

// NewSearchRepository creates a SearchRepository for embeddings of the given dimension.
func NewSearchRepository(db *database.DB, dimensions int) SearchRepository {
	return &searchRepository{db: db, dimensions: dimensions}
}

var _ SearchRepository = (*searchRepository)(nil)

func (r *searchRepository) Dimensions() int {
	return r.dimensions
}

func (r *searchRepository) VectorSearch(ctx context.Context, index models.VectorIndex, embedding []float32, limit int) ([]models.SearchResult, error) {
	spec, ok := vectorIndexes[index]
	if !ok {
		return nil, fmt.Errorf("unknown vector index %q", index)
	}
	if len(embedding) != r.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, index %s expects %d", len(embedding), index, r.dimensions)
	}

	q := r.db.GetScope(ctx)

	// The cast matches the HNSW index expression so the planner can use it.
	distance := fmt.Sprintf("(embedding::vector(%d) <=> $1::vector(%d))", r.dimensions, r.dimensions)
	query := fmt.Sprintf(`
		SELECT id, %s, %s, aliases, project_ids, 1 - %s AS score
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY %s
		LIMIT $2`,
		spec.nameColumn, spec.typeColumn, distance, spec.table, distance)

	return r.querySearch(ctx, q, spec, query, pgvector.NewVector(embedding), limit)
}

func (r *searchRepository) LexicalSearch(ctx context.Context, index models.LexicalIndex, terms []LexicalTerm, phrase string, limit int) ([]models.SearchResult, error) {
	spec, ok := lexicalIndexes[index]
	if !ok {
		return nil, fmt.Errorf("unknown lexical index %q", index)
	}
	if len(terms) == 0 {
		return nil, nil
	}

	texts := make([]string, len(terms))
	fuzz := make([]int32, len(terms))
	for i, t := range terms {
		texts[i] = strings.ToLower(t.Text)
		fuzz[i] = int32(t.Fuzziness)
	}

	q := r.db.GetScope(ctx)

	// Per query term take the best match among the record's stored terms,
	// then sum across query terms.
	query := fmt.Sprintf(`
		SELECT r.id, r.%[1]s, r.%[2]s, r.aliases, r.project_ids,
		       SUM(m.best) + CASE WHEN r.normalized_name = $3 THEN %[4]f ELSE 0 END AS score
		FROM %[3]s r
		CROSS JOIN LATERAL (
			SELECT MAX(CASE
				WHEN w = qt.term THEN %[5]f
				WHEN qt.fuzz > 0 AND levenshtein_less_equal(w, qt.term, qt.fuzz) <= qt.fuzz THEN %[6]f
				ELSE 0
			END) AS best
			FROM unnest($1::text[], $2::int[]) AS qt(term, fuzz)
			CROSS JOIN unnest(r.search_terms) AS w
			GROUP BY qt.term
		) m
		GROUP BY r.id
		HAVING SUM(m.best) > 0
		ORDER BY score DESC, r.%[1]s, r.id
		LIMIT $4`,
		spec.nameColumn, spec.typeColumn, spec.table,
		lexicalPhraseWeight, lexicalExactWeight, lexicalFuzzyWeight)

	return r.querySearch(ctx, q, spec, query, texts, fuzz, strings.ToLower(strings.TrimSpace(phrase)), limit)
}

func (r *searchRepository) querySearch(ctx context.Context, q database.Querier, spec indexSpec, query string, args ...any) ([]models.SearchResult, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s index: %w", spec.table, err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			id       uuid.UUID
			name     string
			typeName string
			aliases  []string
			projects []string
			score    float64
		)
		if err := rows.Scan(&id, &name, &typeName, &aliases, &projects, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		res := models.SearchResult{
			Type:       spec.resultType,
			ID:         id,
			Name:       name,
			Aliases:    aliases,
			ProjectIDs: projects,
			Score:      score,
		}
		if spec.resultType == models.SearchResultTypeEntity {
			res.Kind = models.EntityKind(typeName)
		} else {
			res.Category = models.TagCategory(typeName)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, nil
}

func (r *searchRepository) EnsureVectorIndexes(ctx context.Context) error {
	q := r.db.GetScope(ctx)

	for name, spec := range vectorIndexes {
		stmt := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING hnsw ((embedding::vector(%d)) vector_cosine_ops)`,
			name, spec.table, r.dimensions)
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create vector index %s: %w", name, err)
		}
	}
	return nil
}
