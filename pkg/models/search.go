package models

import "github.com/google/uuid"

// SearchResultType identifies the registry a search hit came from.
type SearchResultType string

const (
	SearchResultTypeEntity SearchResultType = "entity"
	SearchResultTypeTag    SearchResultType = "tag"
)

// MatchSource records which sub-query produced a result.
type MatchSource string

const (
	MatchSourceLexical  MatchSource = "lexical"
	MatchSourceSemantic MatchSource = "semantic"
	MatchSourceHybrid   MatchSource = "hybrid"
)

// VectorIndex names a nearest-neighbour index in the store.
type VectorIndex string

const (
	VectorIndexCanonicalEntities VectorIndex = "canonical_entity_embeddings"
	VectorIndexTags              VectorIndex = "tag_embeddings"
)

// LexicalIndex names a fuzzy full-text index in the store.
type LexicalIndex string

const (
	LexicalIndexCanonicalEntities LexicalIndex = "canonical_entity_terms"
	LexicalIndexTags              LexicalIndex = "tag_terms"
)

// SearchOptions are the caller-facing knobs of a registry search.
type SearchOptions struct {
	Query       string       `json:"query"`
	EntityKinds []EntityKind `json:"entity_kinds,omitempty"`
	UseSemantic bool         `json:"use_semantic"`
	// UseHybrid defaults to true when UseSemantic is set.
	UseHybrid  *bool    `json:"use_hybrid,omitempty"`
	Limit      int      `json:"limit"`
	MinScore   float64  `json:"min_score"`
	ProjectIDs []string `json:"project_ids,omitempty"`
}

// HybridEnabled resolves the UseHybrid default.
func (o SearchOptions) HybridEnabled() bool {
	if !o.UseSemantic {
		return false
	}
	return o.UseHybrid == nil || *o.UseHybrid
}

// SearchResult is one ranked hit from the canonical entity or tag registry.
type SearchResult struct {
	Type       SearchResultType `json:"type"`
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Kind       EntityKind       `json:"kind,omitempty"`
	Category   TagCategory      `json:"category,omitempty"`
	Aliases    []string         `json:"aliases,omitempty"`
	ProjectIDs []string         `json:"project_ids,omitempty"`
	Score      float64          `json:"score"`
	MatchedBy  MatchSource      `json:"matched_by"`
}

// Key identifies a result across sub-queries.
func (r SearchResult) Key() string {
	return string(r.Type) + ":" + r.ID.String()
}
