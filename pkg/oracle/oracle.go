// Package oracle defines the semantic-matching contract used by entity and
// tag resolution, and an implementation backed by a chat model.
package oracle

import (
	"context"
	"errors"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

var (
	// ErrMalformedResponse means the oracle answered but the answer could not
	// be decoded. Callers skip the affected batch.
	ErrMalformedResponse = errors.New("oracle returned a malformed response")
	// ErrUnavailable means the oracle is not being called because its
	// provider failed repeatedly.
	ErrUnavailable = errors.New("oracle unavailable")
)

// EntityMatch maps mentions[MentionIndex] to canonicals[CanonicalIndex].
type EntityMatch struct {
	MentionIndex   int
	CanonicalIndex int
	Similarity     float64
	Reason         string
}

// MatchResult is the answer to one MatchEntities batch. Indices refer to the
// slices passed in and are not validated.
type MatchResult struct {
	Matches       []EntityMatch
	NewCanonicals []int
}

// TagGroup lists tags[i] for every i in VariantIndices as one concept.
type TagGroup struct {
	CanonicalTag   string
	Category       string
	VariantIndices []int
	Reason         string
}

// TagGroupResult is the answer to one GroupTags call.
type TagGroupResult struct {
	Groups []TagGroup
}

// Oracle judges whether names refer to the same real-world thing. Calls are
// stateless and may be made with disjoint batches.
type Oracle interface {
	MatchEntities(ctx context.Context, kind models.EntityKind, mentions []*models.EntityMention, canonicals []*models.CanonicalEntity) (*MatchResult, error)
	GroupTags(ctx context.Context, tags []*models.Tag) (*TagGroupResult, error)
}
