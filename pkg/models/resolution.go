package models

import "time"

// KindResolutionStats summarizes a resolution run for one entity kind.
type KindResolutionStats struct {
	Kind          EntityKind `json:"kind"`
	Processed     int        `json:"processed"`
	Merged        int        `json:"merged"`
	Created       int        `json:"created"`
	Skipped       int        `json:"skipped"`
	FailedBatches int        `json:"failed_batches"`
	OracleCalls   int        `json:"oracle_calls"`
}

// EntityResolutionResult is returned by a cross-document resolution run.
type EntityResolutionResult struct {
	Processed     int                    `json:"processed"`
	Merged        int                    `json:"merged"`
	Created       int                    `json:"created"`
	Skipped       int                    `json:"skipped"`
	FailedBatches int                    `json:"failed_batches"`
	Kinds         []*KindResolutionStats `json:"kinds,omitempty"`
	Duration      time.Duration          `json:"duration"`
}

// Add folds per-kind stats into the run totals.
func (r *EntityResolutionResult) Add(stats *KindResolutionStats) {
	r.Processed += stats.Processed
	r.Merged += stats.Merged
	r.Created += stats.Created
	r.Skipped += stats.Skipped
	r.FailedBatches += stats.FailedBatches
	r.Kinds = append(r.Kinds, stats)
}

// CanonicalMergeResult is returned by the duplicate-canonical cleanup pass.
type CanonicalMergeResult struct {
	Groups        int           `json:"groups"`
	Merged        int           `json:"merged"`
	// Skipped counts pairs left for a later pass because a row vanished or
	// the folded name's key is held elsewhere.
	Skipped       int           `json:"skipped"`
	MentionsMoved int           `json:"mentions_moved"`
	Duration      time.Duration `json:"duration"`
}

// TagResolutionResult is returned by a tag resolution run.
type TagResolutionResult struct {
	Normalized     int           `json:"normalized"`
	ExactMerged    int           `json:"exact_merged"`
	SemanticGroups int           `json:"semantic_groups"`
	SemanticMerged int           `json:"semantic_merged"`
	Remaining      int           `json:"remaining"`
	Duration       time.Duration `json:"duration"`
}

// EmbeddingResult is returned by an embedding maintenance run.
type EmbeddingResult struct {
	EntitiesEmbedded int           `json:"entities_embedded"`
	EntitiesSkipped  int           `json:"entities_skipped"`
	TagsEmbedded     int           `json:"tags_embedded"`
	TagsSkipped      int           `json:"tags_skipped"`
	FailedBatches    int           `json:"failed_batches"`
	Duration         time.Duration `json:"duration"`
}

// Embedded returns the number of records sent to the embedding provider.
func (r *EmbeddingResult) Embedded() int {
	return r.EntitiesEmbedded + r.TagsEmbedded
}
