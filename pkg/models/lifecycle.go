package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Lifecycle Subject Types
// ============================================================================

// LifecycleSubjectType identifies what a lifecycle record tracks.
type LifecycleSubjectType string

const (
	LifecycleSubjectDocument LifecycleSubjectType = "document"
	LifecycleSubjectNode     LifecycleSubjectType = "node"
)

// IsValidLifecycleSubjectType checks if the given subject type is valid.
func IsValidLifecycleSubjectType(t LifecycleSubjectType) bool {
	return t == LifecycleSubjectDocument || t == LifecycleSubjectNode
}

// ============================================================================
// Lifecycle States
// ============================================================================

// LifecycleState is the processing stage of a document or content node.
// State machine:
//
//	pending → parsing → parsed → linking → linked → embedding → ready
//
//	Any non-terminal state can transition to: error
//	ready, error → pending (reset / retry)
type LifecycleState string

const (
	LifecycleStatePending   LifecycleState = "pending"
	LifecycleStateParsing   LifecycleState = "parsing"
	LifecycleStateParsed    LifecycleState = "parsed"
	LifecycleStateLinking   LifecycleState = "linking"
	LifecycleStateLinked    LifecycleState = "linked"
	LifecycleStateEmbedding LifecycleState = "embedding"
	LifecycleStateReady     LifecycleState = "ready"
	LifecycleStateError     LifecycleState = "error"
)

// ValidLifecycleStates contains all valid lifecycle state values.
var ValidLifecycleStates = []LifecycleState{
	LifecycleStatePending,
	LifecycleStateParsing,
	LifecycleStateParsed,
	LifecycleStateLinking,
	LifecycleStateLinked,
	LifecycleStateEmbedding,
	LifecycleStateReady,
	LifecycleStateError,
}

// IsValidLifecycleState checks if the given state is valid.
func IsValidLifecycleState(s LifecycleState) bool {
	for _, v := range ValidLifecycleStates {
		if v == s {
			return true
		}
	}
	return false
}

var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	LifecycleStatePending:   {LifecycleStateParsing, LifecycleStateError},
	LifecycleStateParsing:   {LifecycleStateParsed, LifecycleStateError},
	LifecycleStateParsed:    {LifecycleStateLinking, LifecycleStateError},
	LifecycleStateLinking:   {LifecycleStateLinked, LifecycleStateError},
	LifecycleStateLinked:    {LifecycleStateEmbedding, LifecycleStateError},
	LifecycleStateEmbedding: {LifecycleStateReady, LifecycleStateError},
	LifecycleStateReady:     {LifecycleStatePending},
	LifecycleStateError:     {LifecycleStatePending},
}

// CanTransitionTo returns true if moving from s to target is in the transition table.
func (s LifecycleState) CanTransitionTo(target LifecycleState) bool {
	for _, next := range lifecycleTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for ready and error.
func (s LifecycleState) IsTerminal() bool {
	return s == LifecycleStateReady || s == LifecycleStateError
}

// IsInProgress returns true for states that represent active work and can get stuck.
func (s LifecycleState) IsInProgress() bool {
	return s == LifecycleStateParsing || s == LifecycleStateLinking || s == LifecycleStateEmbedding
}

// InProgressLifecycleStates lists states swept by stuck-state recovery.
var InProgressLifecycleStates = []LifecycleState{
	LifecycleStateParsing,
	LifecycleStateLinking,
	LifecycleStateEmbedding,
}

// ============================================================================
// Error Stages
// ============================================================================

// LifecycleErrorStage classifies where processing failed.
type LifecycleErrorStage string

const (
	LifecycleErrorStageParse LifecycleErrorStage = "parse"
	LifecycleErrorStageLink  LifecycleErrorStage = "link"
	LifecycleErrorStageEmbed LifecycleErrorStage = "embed"
)

// IsValidLifecycleErrorStage checks if the given stage is valid.
func IsValidLifecycleErrorStage(s LifecycleErrorStage) bool {
	return s == LifecycleErrorStageParse || s == LifecycleErrorStageLink || s == LifecycleErrorStageEmbed
}

// ErrorStageFor maps a state to the stage that fails when work in that state fails.
func ErrorStageFor(s LifecycleState) LifecycleErrorStage {
	switch s {
	case LifecycleStatePending, LifecycleStateParsing:
		return LifecycleErrorStageParse
	case LifecycleStateParsed, LifecycleStateLinking:
		return LifecycleErrorStageLink
	default:
		return LifecycleErrorStageEmbed
	}
}

// ============================================================================
// Lifecycle Record
// ============================================================================

// LifecycleRecord tracks the processing stage of one document or node.
type LifecycleRecord struct {
	ID             uuid.UUID            `json:"id"`
	SubjectType    LifecycleSubjectType `json:"subject_type"`
	SubjectID      string               `json:"subject_id"`
	ProjectID      string               `json:"project_id,omitempty"`
	State          LifecycleState       `json:"state"`
	ContentHash    *string              `json:"content_hash,omitempty"`
	ErrorStage     *LifecycleErrorStage `json:"error_stage,omitempty"`
	LastError      *string              `json:"last_error,omitempty"`
	RetryCount     int                  `json:"retry_count"`
	StateChangedAt time.Time            `json:"state_changed_at"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// LifecycleSubject identifies the document or node a record belongs to.
type LifecycleSubject struct {
	Type      LifecycleSubjectType `json:"type"`
	ID        string               `json:"id"`
	ProjectID string               `json:"project_id,omitempty"`
}

// LifecycleStateCount is one row of a per-state summary.
type LifecycleStateCount struct {
	State LifecycleState `json:"state"`
	Count int            `json:"count"`
}
