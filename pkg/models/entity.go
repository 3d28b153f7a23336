// Package models contains domain types for the resolution and search engine.
package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ============================================================================
// Entity Kinds
// ============================================================================

// EntityKind classifies a named thing extracted from content.
type EntityKind string

const (
	EntityKindPerson       EntityKind = "Person"
	EntityKindOrganization EntityKind = "Organization"
	EntityKindLocation     EntityKind = "Location"
	EntityKindConcept      EntityKind = "Concept"
	EntityKindTechnology   EntityKind = "Technology"
	EntityKindDateEvent    EntityKind = "DateEvent"
	EntityKindProduct      EntityKind = "Product"
)

// ValidEntityKinds contains all valid entity kind values.
var ValidEntityKinds = []EntityKind{
	EntityKindPerson,
	EntityKindOrganization,
	EntityKindLocation,
	EntityKindConcept,
	EntityKindTechnology,
	EntityKindDateEvent,
	EntityKindProduct,
}

// IsValidEntityKind checks if the given kind is valid.
func IsValidEntityKind(k EntityKind) bool {
	for _, v := range ValidEntityKinds {
		if v == k {
			return true
		}
	}
	return false
}

// ============================================================================
// Entity Mention
// ============================================================================

// EntityMention is a single extraction of a named thing from one content node.
// Mentions are written by the extraction pipeline; this engine only reads them
// and sets CanonicalID (the "represents" link).
type EntityMention struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Kind        EntityKind     `json:"kind"`
	Confidence  float64        `json:"confidence"` // 0.0-1.0
	Aliases     []string       `json:"aliases,omitempty"`
	ProjectID   string         `json:"project_id"`
	DocumentID  string         `json:"document_id"`
	Attributes  map[string]any `json:"attributes,omitempty"` // e.g. role for Person, website for Organization
	CanonicalID *uuid.UUID     `json:"canonical_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IsResolved returns true if the mention is linked to a canonical entity.
func (m *EntityMention) IsResolved() bool {
	return m.CanonicalID != nil
}

// ============================================================================
// Canonical Entity
// ============================================================================

// CanonicalEntity is the deduplicated, corpus-wide representative of one
// real-world entity. At most one exists per (NormalizedName, Kind).
type CanonicalEntity struct {
	ID             uuid.UUID  `json:"id"`
	CanonicalName  string     `json:"canonical_name"`
	NormalizedName string     `json:"normalized_name"`
	Kind           EntityKind `json:"kind"`
	Aliases        []string   `json:"aliases"`
	ProjectIDs     []string   `json:"project_ids"`
	DocumentIDs    []string   `json:"document_ids"`
	EmbeddingHash  *string    `json:"embedding_hash,omitempty"`
	EmbeddedAt     *time.Time `json:"embedded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewCanonicalFromMention builds an unsaved canonical entity from its first
// observed mention. Every surface form seen so far is kept as an alias.
func NewCanonicalFromMention(m *EntityMention) *CanonicalEntity {
	name := strings.TrimSpace(m.Name)
	c := &CanonicalEntity{
		CanonicalName:  name,
		NormalizedName: NormalizeEntityName(name),
		Kind:           m.Kind,
		Aliases:        UnionStrings([]string{name}, m.Aliases),
	}
	if m.ProjectID != "" {
		c.ProjectIDs = []string{m.ProjectID}
	}
	if m.DocumentID != "" {
		c.DocumentIDs = []string{m.DocumentID}
	}
	return c
}

// NormalizeEntityName returns the uniqueness key form of an entity name.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ============================================================================
// String set helpers
// ============================================================================

// UnionStrings returns the order-preserving union of the given slices,
// skipping empty strings and exact duplicates.
func UnionStrings(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, s := range set {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// RemoveString returns values without any entry equal to target.
func RemoveString(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// ContainsAny reports whether values shares at least one element with wanted.
func ContainsAny(values []string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	for _, w := range wanted {
		if set[w] {
			return true
		}
	}
	return false
}

// SearchTerms tokenizes a name and its aliases into the lowercase terms stored
// in the lexical index.
func SearchTerms(name string, aliases []string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(s string) {
		for _, tok := range strings.FieldsFunc(strings.ToLower(s), isTermSeparator) {
			if !seen[tok] {
				seen[tok] = true
				terms = append(terms, tok)
			}
		}
	}
	add(name)
	for _, a := range aliases {
		add(a)
	}
	return terms
}

func isTermSeparator(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return false
	case r == '+' || r == '#':
		// keeps "c++" and "c#" intact
		return false
	case r > unicode.MaxASCII:
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	default:
		return true
	}
}
