package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TagCategory groups tags by what they describe.
type TagCategory string

const (
	TagCategoryTopic      TagCategory = "topic"
	TagCategoryTechnology TagCategory = "technology"
	TagCategoryDomain     TagCategory = "domain"
	TagCategoryAudience   TagCategory = "audience"
	TagCategoryType       TagCategory = "type"
	TagCategoryOther      TagCategory = "other"
)

// ValidTagCategories contains all valid tag category values.
var ValidTagCategories = []TagCategory{
	TagCategoryTopic,
	TagCategoryTechnology,
	TagCategoryDomain,
	TagCategoryAudience,
	TagCategoryType,
	TagCategoryOther,
}

// IsValidTagCategory checks if the given category is valid.
func IsValidTagCategory(c TagCategory) bool {
	for _, v := range ValidTagCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Tag is a lowercase, hyphenated thematic label attached to content nodes.
// NormalizedName is unique across the store; UsageCount only grows or is
// summed during merges.
type Tag struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	NormalizedName string      `json:"normalized_name"`
	Category       TagCategory `json:"category"`
	Aliases        []string    `json:"aliases"`
	UsageCount     int         `json:"usage_count"`
	ProjectIDs     []string    `json:"project_ids"`
	EmbeddingHash  *string     `json:"embedding_hash,omitempty"`
	EmbeddedAt     *time.Time  `json:"embedded_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NormalizeTagName lowercases and trims a tag name and collapses every run of
// whitespace into a single hyphen.
func NormalizeTagName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// IsNormalizationStale reports whether the stored normalized name no longer
// matches the one derived from Name.
func (t *Tag) IsNormalizationStale() bool {
	return t.NormalizedName != NormalizeTagName(t.Name)
}
